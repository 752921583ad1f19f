package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thalesfsp/mgp"
)

var (
	imputeParams   string
	imputePatients string
	imputeStd      bool
)

var imputeCmd = &cobra.Command{
	Use:   "impute",
	Short: "Impute a batch of patients",
	Long: `Read a JSON array of patient records, draw posterior samples on each
patient's query grid and print the Monte Carlo mean grid (and optionally the
standard deviation) together with the failure ledger as JSON.`,
	RunE: runImpute,
}

func init() {
	imputeCmd.Flags().StringVarP(&imputeParams, "params", "p", "params.json", "Checkpoint written by init")
	imputeCmd.Flags().StringVar(&imputePatients, "patients", "", "JSON file holding an array of patient records")
	imputeCmd.Flags().BoolVar(&imputeStd, "std", false, "Include the Monte Carlo standard deviation")

	_ = imputeCmd.MarkFlagRequired("patients")
}

// imputeReport is the JSON document printed by impute.
type imputeReport struct {
	Shape    [4]int          `json:"shape"`
	Mean     [][][]float64   `json:"mean"`
	Std      [][][]float64   `json:"std,omitempty"`
	Failures []failureReport `json:"failures"`
}

type failureReport struct {
	ID      string `json:"id"`
	Patient int    `json:"patient"`
	Error   string `json:"error"`
}

func runImpute(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	pf, err := os.Open(imputeParams)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer pf.Close()

	params, err := mgp.LoadParameters(pf, config.Features)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(imputePatients)
	if err != nil {
		return fmt.Errorf("read patients: %w", err)
	}

	var patients []mgp.Patient
	if err := json.Unmarshal(data, &patients); err != nil {
		return fmt.Errorf("decode patients: %w", err)
	}

	imputer, err := mgp.New(config, params)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	samples, err := imputer.Impute(ctx, mgp.NewBatch(patients))
	if err != nil {
		return err
	}

	report := imputeReport{
		Shape: samples.Shape(),
		Mean:  grids(mgp.SampleMean(samples)),
	}

	if imputeStd {
		report.Std = grids(mgp.SampleStd(samples))
	}

	for _, f := range imputer.Ledger().Failures() {
		report.Failures = append(report.Failures, failureReport{
			ID:      f.ID.String(),
			Patient: f.PatientIndex,
			Error:   f.Err.Error(),
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(report)
}

// grids unpacks a reduced (patients, 1, steps, channels) tensor.
func grids(t *mgp.Tensor) [][][]float64 {
	shape := t.Shape()
	out := make([][][]float64, shape[0])

	for b := range out {
		out[b] = make([][]float64, shape[2])
		for w := range out[b] {
			out[b][w] = make([]float64, shape[3])
			for f := range out[b][w] {
				out[b][w][f] = t.At(b, 0, w, f)
			}
		}
	}

	return out
}
