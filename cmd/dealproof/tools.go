package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/colorfulnotion/dealproof/common"
	"github.com/colorfulnotion/dealproof/merkle"
	"github.com/colorfulnotion/dealproof/storage"
	"github.com/colorfulnotion/dealproof/window"
	"github.com/spf13/cobra"
)

var errProofInvalid = errors.New("proof does not verify")

func parseUint(name, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}

// createOutput opens path for writing, or stdout for "" and "-".
func createOutput(cmd *cobra.Command, path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopWriteCloser{cmd.OutOrStdout()}, nil
	}
	return os.Create(path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newCommitCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "commit <file>",
		Short: "Print the root hash of a file and write its outboard tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, outboard, err := merkle.CommitFile(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".obao"
			}
			if err := os.WriteFile(out, outboard, 0o644); err != nil {
				return err
			}
			c, err := storage.OutboardCid(outboard)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "root     %s\noutboard %s (%d bytes, cid %s)\n", root.Hex(), out, len(outboard), c)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Outboard path (default <file>.obao)")
	return cmd
}

func newExtractCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "extract <file> <outboard> <offset> <length>",
		Short: "Write the slice proof for a byte range",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := parseUint("offset", args[2])
			if err != nil {
				return err
			}
			length, err := parseUint("length", args[3])
			if err != nil {
				return err
			}
			data, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer data.Close()
			outboard, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer outboard.Close()

			w, err := createOutput(cmd, out)
			if err != nil {
				return err
			}
			bw := bufio.NewWriter(w)
			if err := merkle.ExtractSliceTo(bw, data, outboard, offset, length); err != nil {
				w.Close()
				return err
			}
			if err := bw.Flush(); err != nil {
				w.Close()
				return err
			}
			return w.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Proof path (- for stdout)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "verify <proof> <root> <offset> <length>",
		Short: "Check a slice proof against a root hash",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := common.ParseHash(args[1])
			if err != nil {
				return err
			}
			offset, err := parseUint("offset", args[2])
			if err != nil {
				return err
			}
			length, err := parseUint("length", args[3])
			if err != nil {
				return err
			}
			proof, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer proof.Close()

			dst := io.Discard
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				dst = f
			}
			valid, err := merkle.DecodeSlice(dst, bufio.NewReader(proof), root, offset, length)
			if err != nil {
				return err
			}
			if !valid {
				fmt.Fprintln(cmd.OutOrStdout(), "invalid")
				return errProofInvalid
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Also write the verified content here")
	return cmd
}

func newChooseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "choose <block-hash> <file-length>",
		Short: "Print the chunk a block hash selects",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blockHash, err := common.ParseHash(args[0])
			if err != nil {
				return err
			}
			fileLength, err := parseUint("file length", args[1])
			if err != nil {
				return err
			}
			sel, err := window.ComputeRandomBlockChoiceFromHash(blockHash, fileLength)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chunk %d offset %d length %d\n", sel.Index(), sel.Offset, sel.Length)
			return nil
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <outboard>",
		Short: "Print the hash tree stored in an outboard file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outboard, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			tree, err := merkle.OutboardTree(outboard)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), tree.String())
			return nil
		},
	}
}
