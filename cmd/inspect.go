package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/hybrid-sched/engine"
)

var (
	// inspect flags
	cprfLens []int
	gprfLens []int
	gdecLens []int
	cdecLens []int
)

// inspection is the YAML printed by the inspect command.
type inspection struct {
	Composition string               `yaml:"composition"`
	GPUTime     float64              `yaml:"gpu_time"`
	CPUTime     float64              `yaml:"cpu_time"`
	Batch       *engine.ForwardBatch `yaml:"batch"`
}

// inspectBatch composes one sub-batch from per-category lengths and finalizes
// it. Prefill lengths are prompt lengths; decode lengths are sequence lengths
// and must be at least 2. Request ids are assigned in batch order.
func inspectBatch(model engine.ModelConfig, predictor engine.PerfPredictor, cprf, gprf, gdec, cdec []int) (*inspection, error) {
	sb := engine.NewSubBatch(predictor)
	nextID := 0
	newReq := func(seqLen, generated int) *engine.Request {
		prompt := make([]int, seqLen-generated)
		outputs := make([]int, generated)
		req := engine.CreateRequest(prompt, nextID, outputs, false)
		nextID++
		return req
	}
	for _, lens := range [][]int{cprf, gprf} {
		for _, l := range lens {
			if l < 1 {
				return nil, fmt.Errorf("prefill length must be >= 1, got %d", l)
			}
		}
	}
	for _, lens := range [][]int{gdec, cdec} {
		for _, l := range lens {
			if l < 2 {
				return nil, fmt.Errorf("decode sequence length must be >= 2, got %d", l)
			}
		}
	}
	for _, l := range cprf {
		sb.AddPref(newReq(l, 0), false)
	}
	for _, l := range gprf {
		sb.AddPref(newReq(l, 0), true)
	}
	for _, l := range gdec {
		sb.AddGdec(newReq(l, 1))
	}
	for _, l := range cdec {
		sb.AddCdec(newReq(l, 1))
	}
	if sb.Len() == 0 {
		return nil, errors.New("empty batch: give at least one of --cprf, --gprf, --gdec, --cdec")
	}
	ins := &inspection{Composition: sb.String(), GPUTime: sb.GPUTime(), CPUTime: sb.CPUTime()}
	ins.Batch = sb.SetModelForwardArgs(model)
	return ins, nil
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Finalize one hand-specified sub-batch and print its descriptor",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := resolveConfig(cmd.Context())
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		predictor := engine.NewPerfPredictor(cfg.Engine.ProfileResultPath)
		ins, err := inspectBatch(cfg.Model, predictor, cprfLens, gprfLens, gdecLens, cdecLens)
		if err != nil {
			logrus.Fatalf("Inspect failed: %v", err)
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(ins); err != nil {
			logrus.Fatalf("Failed to write descriptor: %v", err)
		}
		_ = enc.Close()
	},
}

func init() {
	inspectCmd.Flags().IntSliceVar(&cprfLens, "cprf", nil, "Prompt lengths of CPU-prefill requests")
	inspectCmd.Flags().IntSliceVar(&gprfLens, "gprf", nil, "Prompt lengths of GPU-prefill requests")
	inspectCmd.Flags().IntSliceVar(&gdecLens, "gdec", nil, "Sequence lengths of GPU-decode requests")
	inspectCmd.Flags().IntSliceVar(&cdecLens, "cdec", nil, "Sequence lengths of CPU-decode requests")

	rootCmd.AddCommand(inspectCmd)
}
