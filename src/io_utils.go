package src

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ReadFile loads a tab delimited matrix. With rowName the first column holds
// row IDs, with colName the first line holds column IDs.
func ReadFile(inFile string, rowName bool, colName bool) (data *mat.Dense, rName []string, cName []string, err error) {
	lc, cc, err := lcCount(inFile)
	if err != nil {
		return nil, nil, nil, err
	}
	if rowName {
		cc -= 1
	}
	if colName {
		lc -= 1
	}
	if lc <= 0 || cc <= 0 {
		return nil, nil, nil, errors.Wrapf(ErrEmptyDataSet, "%s: %d rows, %d columns", inFile, lc, cc)
	}
	data = mat.NewDense(lc, cc, nil)

	file, err := os.Open(inFile)
	if err != nil {
		return nil, nil, nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<28)
	r := 0
	touchCol := false
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		elements := strings.Split(line, "\t")
		if colName && !touchCol {
			if rowName {
				elements = elements[1:]
			}
			cName = elements
			touchCol = true
			continue
		}
		if rowName {
			rName = append(rName, elements[0])
			elements = elements[1:]
		}
		if len(elements) != cc {
			return nil, nil, nil, errors.Errorf("%s: line %d has %d columns, want %d", inFile, r+1, len(elements), cc)
		}
		for c, e := range elements {
			v, err := strconv.ParseFloat(e, 64)
			if err != nil {
				return nil, nil, nil, errors.Wrapf(err, "%s: row %d column %d", inFile, r+1, c+1)
			}
			data.Set(r, c, v)
		}
		r++
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, nil, errors.Wrap(err, inFile)
	}
	return data, rName, cName, nil
}

// lcCount returns the number of non-empty lines and the number of columns of
// the first line of a tab separated file.
func lcCount(filename string) (lc int, cc int, err error) {
	file, err := os.Open(filename)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<28)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if lc == 0 {
			cc = strings.Count(line, "\t") + 1
		}
		lc++
	}
	return lc, cc, errors.Wrap(scanner.Err(), filename)
}

// WriteFile writes a tab delimited matrix, prefixed with the column names
// and row names when they are given.
func WriteFile(outFile string, data mat.Matrix, rowName []string, colName []string) (err error) {
	file, err := os.Create(outFile)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	wr := bufio.NewWriterSize(file, 192000)
	nRow, nCol := data.Dims()
	if colName != nil {
		if rowName != nil {
			wr.WriteString("ID\t")
		}
		wr.WriteString(strings.Join(colName, "\t"))
		wr.WriteString("\n")
	}
	for i := 0; i < nRow; i++ {
		if rowName != nil {
			wr.WriteString(rowName[i])
			wr.WriteString("\t")
		}
		for j := 0; j < nCol; j++ {
			if j > 0 {
				wr.WriteString("\t")
			}
			wr.WriteString(strconv.FormatFloat(data.At(i, j), 'f', 6, 64))
		}
		wr.WriteString("\n")
	}
	return wr.Flush()
}

// WriteLines writes one line per element.
func WriteLines(outFile string, lines []string) (err error) {
	file, err := os.Create(outFile)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	wr := bufio.NewWriter(file)
	for _, line := range lines {
		wr.WriteString(line)
		wr.WriteString("\n")
	}
	return wr.Flush()
}

// ReadLines returns the lines of a text file without line endings.
func ReadLines(inFile string) (lines []string, err error) {
	file, err := os.Open(inFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	return lines, errors.Wrap(scanner.Err(), inFile)
}

// LoadDataSet reads a feature matrix and a 0/1 label matrix with the same
// row order. Both files carry row IDs and column names. Label cells above 0.5
// are positive.
func LoadDataSet(featureFile string, labelFile string) (data *DataSet, rowName []string, labelName []string, err error) {
	x, xRowName, _, err := ReadFile(featureFile, true, true)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "reading features")
	}
	y, yRowName, labelName, err := ReadFile(labelFile, true, true)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "reading labels")
	}
	nRow, nLabel := y.Dims()
	if len(xRowName) != len(yRowName) {
		return nil, nil, nil, errors.Errorf("%d feature rows, %d label rows", len(xRowName), len(yRowName))
	}
	for i := range xRowName {
		if xRowName[i] != yRowName[i] {
			return nil, nil, nil, errors.Errorf("row %d: feature ID %s, label ID %s", i+1, xRowName[i], yRowName[i])
		}
	}
	labels := make([]MultiLabel, nRow)
	for i := 0; i < nRow; i++ {
		for j := 0; j < nLabel; j++ {
			if y.At(i, j) > 0.5 {
				labels[i].Add(j)
			}
		}
	}
	data, err = NewDataSet(x, labels, nLabel)
	return data, yRowName, labelName, err
}

// Init creates the result folder and opens its log file for appending.
func Init(resFolder string) (*os.File, error) {
	if err := os.MkdirAll(resFolder, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(resFolder, "log.txt"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}
