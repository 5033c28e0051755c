package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/23skdu/attnscope/internal/artifact"
	"github.com/23skdu/attnscope/internal/logger"
	"github.com/23skdu/attnscope/internal/store"
)

func NewConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert MODEL [MODEL...]",
		Short: "Re-encode CBOR artifacts of the given models as Arrow IPC",
		Args:  cobra.MinimumNArgs(1),
		RunE:  convertHandler,
	}
	cmd.Flags().String("out", "", "Output directory (default: the data dir)")
	cmd.Flags().String("dtype", "float32", "Element type of the Arrow attention column: float32, float64, float16 or bfloat16")
	return cmd
}

func convertHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	raw, _ := cmd.Flags().GetString("dtype")
	dt, err := artifact.ParseDType(raw)
	if err != nil {
		return err
	}

	src, err := store.NewDirSource(cfg.DataDir)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = src.Root
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}

	loader := store.NewLoader(src, artifact.FormatCBOR)
	for _, model := range args {
		s, o, found, err := loader.Load(cmd.Context(), model)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no CBOR artifacts for %s in %s", model, src.Root)
		}

		var buf bytes.Buffer
		if err := artifact.WriteAttentionArrow(&buf, s, dt); err != nil {
			return fmt.Errorf("encode %s: %w", model, err)
		}
		if err := writeFileAtomic(filepath.Join(out, artifact.AttentionName(model, artifact.FormatArrow)), buf.Bytes()); err != nil {
			return err
		}
		buf.Reset()
		if err := artifact.WriteOutputsArrow(&buf, o); err != nil {
			return fmt.Errorf("encode %s outputs: %w", model, err)
		}
		if err := writeFileAtomic(filepath.Join(out, artifact.OutputName(model, artifact.FormatArrow)), buf.Bytes()); err != nil {
			return err
		}
		logger.Log.Info("Converted artifacts", "model", model, "dtype", string(dt), "out", out)
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records -> %s\n", model, s.Len(), out)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".attnscope-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
