// Copyright © 2019 Hao Chen <chenhao.mymail@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chenhao392/rcbm/src"
	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "summarize a training result",
	Long: `Summarize the outputs of a train run: component masses and the spread
of the maximal membership per instance from gamma.txt, and the recovered
labels from flips.txt.

If a prediction matrix is given with --i, per label AUPR against the label
matrix --tsY is reported as well.

  Sample usages:
  rcbm report --res result
  rcbm report --res result --tsY labels.txt --i result/marginals.txt`,
	Run: func(cmd *cobra.Command, args []string) {
		resFolder, _ := cmd.Flags().GetString("res")
		tsY, _ := cmd.Flags().GetString("tsY")
		tsYh, _ := cmd.Flags().GetString("i")

		gamma, _, compName, err := src.ReadFile(filepath.Join(resFolder, "gamma.txt"), true, true)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		summary := src.SummarizeMembership(gamma)
		fmt.Println(summarizeMembership(gamma))
		for k, m := range summary.Mass {
			fmt.Printf("%s\t%1.3f\n", compName[k], m)
		}
		q, err := summary.Quantiles(25, 50, 75, 100)
		if err == nil {
			fmt.Printf("max membership quartiles: %1.3f %1.3f %1.3f %1.3f\n", q[0], q[1], q[2], q[3])
		}

		flips, err := countFlips(filepath.Join(resFolder, "flips.txt"))
		if err == nil {
			fmt.Printf("recovered labels: %d added, %d reset\n", flips[1], flips[0])
		}

		if tsY == "" || tsYh == "" {
			return
		}
		tsYdata, _, _, err := src.ReadFile(tsY, true, true)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		tsYhat, _, _, err := src.ReadFile(tsYh, true, true)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		r1, c1 := tsYdata.Dims()
		r2, c2 := tsYhat.Dims()
		if r1 != r2 || c1 != c2 {
			fmt.Printf("label matrix is %dx%d, predictions are %dx%d\n", r1, c1, r2, c2)
			os.Exit(1)
		}
		if src.NanFilter(tsYhat) {
			fmt.Println("NaN or Inf found.")
		}
		_, aupr := src.LabelAupr(tsYdata, tsYhat)
		if len(aupr) == 0 {
			fmt.Println("no label with positives.")
			return
		}
		macro, _ := stats.Mean(aupr)
		median, _ := stats.Median(aupr)
		fmt.Printf("labels: %d macroAupr: %1.3f medianAupr: %1.3f\n", len(aupr), macro, median)
	},
}

// summarizeMembership is the one line membership summary shared by train and
// report.
func summarizeMembership(gamma mat.Matrix) string {
	summary := src.SummarizeMembership(gamma)
	median, _ := stats.Median(summary.MaxMembership)
	minMax, _ := stats.Min(summary.MaxMembership)
	sd, _ := stats.StandardDeviation(summary.Mass)
	return fmt.Sprintf("max membership median = %1.3f, min = %1.3f, non-empty components = %d/%d, component mass sd = %1.3f",
		median, minMax, summary.NonEmpty(), len(summary.Mass), sd)
}

// countFlips counts the cells of a flips file by their new value.
func countFlips(flipsFile string) (count [2]int, err error) {
	lines, err := src.ReadLines(flipsFile)
	if err != nil {
		return count, err
	}
	for i, line := range lines {
		if i == 0 || len(line) == 0 {
			continue
		}
		if line[len(line)-1] == '1' {
			count[1]++
		} else {
			count[0]++
		}
	}
	return count, nil
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().String("res", "result", "result folder of a train run")
	reportCmd.Flags().String("tsY", "", "true label matrix")
	reportCmd.Flags().String("i", "", "predictions, such as marginals.txt")
}
