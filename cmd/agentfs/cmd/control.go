package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/agentfs/internal/codec"
	"github.com/marmos91/agentfs/pkg/control"
)

var (
	encName   string
	encFrom   string
	encBranch string
	encPID    uint32
	encHex    bool

	decResponse bool
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Build and inspect control plane payloads",
	Long: "Control payloads are CBOR maps carried by transports such as a " +
		"reserved xattr or a control file. These commands produce and inspect them.",
}

var controlEncodeCmd = &cobra.Command{
	Use:       "encode <snapshot.create|snapshot.list|branch.create|branch.bind>",
	Short:     "Encode a control request",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{control.OpSnapshotCreate, control.OpSnapshotList, control.OpBranchCreate, control.OpBranchBind},
	RunE:      runControlEncode,
}

var controlDecodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode and validate a control payload",
	Long:  "Decode a payload from file, or stdin when omitted or '-'. Hex input is accepted.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runControlDecode,
}

func init() {
	controlEncodeCmd.Flags().StringVar(&encName, "name", "", "snapshot or branch name")
	controlEncodeCmd.Flags().StringVar(&encFrom, "from", "", "snapshot id to branch from (default: the caller's current branch)")
	controlEncodeCmd.Flags().StringVar(&encBranch, "branch", "", "branch id to bind")
	controlEncodeCmd.Flags().Uint32Var(&encPID, "pid", 0, "pid to bind (default: the calling pid)")
	controlEncodeCmd.Flags().BoolVar(&encHex, "hex", false, "print hex instead of raw bytes")

	controlDecodeCmd.Flags().BoolVar(&decResponse, "response", false, "decode a response instead of a request")

	controlCmd.AddCommand(controlEncodeCmd, controlDecodeCmd)
	rootCmd.AddCommand(controlCmd)
}

func runControlEncode(cmd *cobra.Command, args []string) error {
	req := &control.Request{
		Version: control.Version,
		Op:      args[0],
		Name:    encName,
		From:    encFrom,
		Branch:  encBranch,
		PID:     encPID,
	}
	data, err := control.EncodeRequest(req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if encHex {
		_, err = fmt.Fprintln(out, hex.EncodeToString(data))
		return err
	}
	_, err = out.Write(data)
	return err
}

func runControlDecode(cmd *cobra.Command, args []string) error {
	data, err := readPayload(cmd, args)
	if err != nil {
		return err
	}

	diag, err := codec.Diagnose(data)
	if err != nil {
		return fmt.Errorf("not a CBOR payload: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, diag)

	if decResponse {
		resp, err := control.DecodeResponse(data)
		if err != nil {
			return err
		}
		if err := resp.Err(); err != nil {
			fmt.Fprintf(out, "failed: %v\n", err)
			return nil
		}
		fmt.Fprintln(out, "ok")
		return nil
	}

	req, err := control.DecodeRequest(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "valid %s request\n", req.Op)
	return nil
}

// readPayload reads raw bytes, decoding them as hex when they look like it.
func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	if trimmed := strings.TrimSpace(string(data)); trimmed != "" {
		if decoded, err := hex.DecodeString(trimmed); err == nil {
			return decoded, nil
		}
	}
	return data, nil
}
