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
	"log"
	"math"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/chenhao392/rcbm/src"
	"github.com/pa-m/sklearn/preprocessing"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/mat"
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "train a CBM and recover missing labels",
	Long: `Train a conditional Bernoulli mixture on a feature matrix and a label
matrix, alternating EM iterations with rounds of label correction.

 1) In label data, each row is one instance/gene and each column is one
    label, such as GO term or pathway ID. The first column holds unique
    instance/gene IDs and the first line the label IDs. Cells above 0.5
    are positives.
 2) In feature data, each row is one instance/gene, in the same order as
    the label data. The first column and first line hold IDs as well.

A correction round every --correct iterations flips the unobserved labels
whose flip lowers the objective, paying --lambda for every added positive.
Flags can also be set in the config file or as RCBM_ environment variables.

Outputs in the result folder:
  gamma.txt        component memberships
  groundTruth.txt  labels after correction
  flips.txt        cells that differ from the input labels
  marginals.txt    per label marginal probabilities on the training data
  objective.txt    objective after each iteration
  log.txt          run log

  Sample usages:
  rcbm train --trX features.txt --trY labels.txt --k 10 --iter 20 --correct 2 --lambda 1`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("trY") == "" || viper.GetString("trX") == "" {
			return cmd.Help()
		}
		resFolder := viper.GetString("res")
		threads := viper.GetInt("t")
		nIter := viper.GetInt("iter")
		correctEvery := viper.GetInt("correct")
		tol := viper.GetFloat64("tol")

		logFile, err := src.Init(resFolder)
		if err != nil {
			return err
		}
		defer logFile.Close()
		log.SetOutput(logFile)
		log.Print("Program started.")
		if viper.GetBool("profile") {
			defer profile.Start(profile.CPUProfile, profile.ProfilePath(resFolder), profile.Quiet).Stop()
		}
		runtime.GOMAXPROCS(threads)

		data, rowName, labelName, err := src.LoadDataSet(viper.GetString("trX"), viper.GetString("trY"))
		if err != nil {
			return logError(err)
		}
		if viper.GetBool("scale") {
			data.X = scaleFeatures(data.X)
			log.Print("features rescaled to 0-1.")
		}
		log.Printf("%d instances, %d features, %d labels loaded.", data.NumData(), data.NumFeatures(), data.NumLabels)

		config := src.DefaultOptimizerConfig()
		config.SkipLabelThreshold = viper.GetFloat64("skipLabel")
		config.SkipDataThreshold = viper.GetFloat64("skipData")
		config.SmoothingStrength = viper.GetFloat64("smooth")
		config.Lambda = viper.GetFloat64("lambda")
		config.BinaryUpdatesPerIter = viper.GetInt("binaryIter")
		config.GatingUpdatesPerIter = viper.GetInt("gatingIter")
		config.L2 = viper.GetFloat64("l2")
		config.Threads = threads
		config.Seed = viper.GetInt64("seed")
		config.Verbose = viper.GetBool("v")

		cbm, err := src.NewCBM(viper.GetInt("k"), data.NumLabels, data.NumFeatures())
		if err != nil {
			return logError(err)
		}
		optimizer, err := src.NewRecoverOptimizer(cbm, data, config)
		if err != nil {
			return logError(err)
		}

		report, err := optimizer.Initialize()
		if err != nil {
			return logError(err)
		}
		logMStep(0, report)
		objective := []float64{optimizer.Objective()}
		log.Printf("initial objective = %g", objective[0])

		for it := 1; it <= nIter; it++ {
			report, err := optimizer.Iterate()
			if err != nil {
				return logError(err)
			}
			logMStep(it, report)
			if correctEvery > 0 && it%correctEvery == 0 {
				res, err := optimizer.UpdateGroundTruth()
				if err != nil {
					return logError(err)
				}
				log.Printf("iteration %d: %d candidates, %d flips applied, #flips = %d", it, res.Evaluated, len(res.Applied), res.Flipped)
			}
			obj := optimizer.Objective()
			log.Printf("iteration %d: objective = %g, %s", it, obj, summarizeMembership(optimizer.Membership().Matrix()))
			delta := obj - objective[len(objective)-1]
			objective = append(objective, obj)
			if math.Abs(delta) < tol {
				log.Printf("converged at iteration %d, objective change %g < %g", it, delta, tol)
				break
			}
		}
		optimizer.Stop()

		if err := writeResults(resFolder, optimizer, rowName, labelName, objective); err != nil {
			return logError(err)
		}
		log.Print("Program finished.")
		return nil
	},
}

// logError records err in the run log and returns it.
func logError(err error) error {
	log.Print(err)
	return err
}

func logMStep(it int, report src.MStepReport) {
	log.Printf("iteration %d: M step trained %d and skipped %d binary classifiers", it, report.Trained, report.Skipped)
	if len(report.EmptyComponents) > 0 {
		log.Printf("iteration %d: empty components %v", it, report.EmptyComponents)
	}
}

// scaleFeatures rescales every feature column into [0,1].
func scaleFeatures(x *mat.Dense) *mat.Dense {
	nRow, _ := x.Dims()
	dummy := mat.NewDense(nRow, 1, nil)
	scaler := preprocessing.NewMinMaxScaler([]float64{0, 1})
	scaler.Fit(x, dummy)
	scaled, _ := scaler.Transform(x, dummy)
	return scaled
}

func writeResults(resFolder string, optimizer *src.RecoverOptimizer, rowName []string, labelName []string, objective []float64) error {
	cbm := optimizer.Model()
	compName := make([]string, cbm.NumComponents)
	for k := range compName {
		compName[k] = "C" + strconv.Itoa(k)
	}
	if err := src.WriteFile(filepath.Join(resFolder, "gamma.txt"), optimizer.Membership().Matrix(), rowName, compName); err != nil {
		return err
	}
	truth := optimizer.GroundTruth()
	if err := src.WriteFile(filepath.Join(resFolder, "groundTruth.txt"), truth.Matrix(), rowName, labelName); err != nil {
		return err
	}

	flips := []string{"ID\tlabel\tvalue"}
	for _, c := range truth.Diff() {
		flips = append(flips, fmt.Sprintf("%s\t%s\t%d", rowName[c.Instance], labelName[c.Label], c.Value))
	}
	if err := src.WriteLines(filepath.Join(resFolder, "flips.txt"), flips); err != nil {
		return err
	}

	data := optimizer.DataSet()
	marginals := mat.NewDense(data.NumData(), cbm.NumLabels, nil)
	for n := 0; n < data.NumData(); n++ {
		marginals.SetRow(n, cbm.PredictMarginals(data.Row(n)))
	}
	if err := src.WriteFile(filepath.Join(resFolder, "marginals.txt"), marginals, rowName, labelName); err != nil {
		return err
	}

	lines := make([]string, len(objective))
	for i, v := range objective {
		lines[i] = fmt.Sprintf("%d\t%g", i, v)
	}
	return src.WriteLines(filepath.Join(resFolder, "objective.txt"), lines)
}

func init() {
	rootCmd.AddCommand(trainCmd)
	trainCmd.Flags().String("trX", "", "training feature matrix")
	trainCmd.Flags().String("trY", "", "training label matrix")
	trainCmd.Flags().String("res", "result", "result folder")
	trainCmd.Flags().Int("k", 10, "number of mixture components")
	trainCmd.Flags().Int("iter", 10, "max number of EM iterations")
	trainCmd.Flags().Int("correct", 1, "run label correction every n iterations, 0 disables")
	trainCmd.Flags().Float64("tol", 1e-4, "stop when the objective changes less than this")
	trainCmd.Flags().Float64("lambda", 0, "penalty for each added positive label")
	trainCmd.Flags().Float64("skipLabel", 1e-5, "skip binary training when a label's positive fraction is within this of 0 or 1")
	trainCmd.Flags().Float64("skipData", 1e-5, "leave out instances whose membership is below this")
	trainCmd.Flags().Float64("smooth", 1e-4, "smoothing strength toward the global positive rate")
	trainCmd.Flags().Int("binaryIter", 10, "optimizer iterations per binary classifier update")
	trainCmd.Flags().Int("gatingIter", 10, "optimizer iterations per gating classifier update")
	trainCmd.Flags().Float64("l2", 1e-4, "l2 regularization")
	trainCmd.Flags().Int("t", 4, "number of threads")
	trainCmd.Flags().Int64("seed", 1, "random seed")
	trainCmd.Flags().Bool("scale", false, "rescale features into 0-1")
	trainCmd.Flags().Bool("v", false, "verbose logging")
	trainCmd.Flags().Bool("profile", false, "write a cpu profile to the result folder")
	viper.BindPFlags(trainCmd.Flags())
}
