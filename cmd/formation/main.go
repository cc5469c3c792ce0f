package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/formation/pkg/build"
	"github.com/cuemby/formation/pkg/fcrypto"
	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/types"
)

// formation is the thin signer/submitter CLI described in spec.md §6
// and SPEC_FULL.md §6: it signs a build request with a local private
// key and submits it to a node's pkg/build.Server HTTP surface, and
// polls build status back. It does not reimplement any part of the
// Build & Placement Engine.
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "formation",
	Short: "Formation CLI - sign and submit fog compute workloads",
	Long: `formation is the client for a Formation node's pack build
surface: it signs a Formfile (hashed with its name) with a secp256k1
key, submits it together with the unsigned artifacts bundle to the node
for placement and build, and lets you poll the result.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(packCmd)
	packCmd.AddCommand(packBuildCmd)
	packCmd.AddCommand(packShipCmd)
	packCmd.AddCommand(packStatusCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Build and ship fog compute workloads",
}

var packBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Sign and submit a build request from a prepared artifacts archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		node, _ := cmd.Flags().GetString("node")
		formfilePath, _ := cmd.Flags().GetString("formfile")
		artifactsPath, _ := cmd.Flags().GetString("artifacts")
		keyPath, _ := cmd.Flags().GetString("key")

		formfile, err := loadFormfile(formfilePath)
		if err != nil {
			return fmt.Errorf("failed to load formfile: %w", err)
		}
		artifacts, err := os.ReadFile(artifactsPath)
		if err != nil {
			return fmt.Errorf("failed to read artifacts archive: %w", err)
		}
		priv, err := loadPrivateKey(keyPath)
		if err != nil {
			return fmt.Errorf("failed to load private key: %w", err)
		}

		req, buildID, err := signBuildRequest(priv, formfile, artifacts)
		if err != nil {
			return fmt.Errorf("failed to sign build request: %w", err)
		}

		if err := submitBuildRequest(node, req); err != nil {
			return fmt.Errorf("failed to submit build request: %w", err)
		}

		fmt.Printf("Build request accepted.\n")
		fmt.Printf("  Build ID: %s\n", buildID)
		fmt.Printf("\nCheck status with:\n  formation pack status --node %s --build-id %s\n", node, buildID)
		return nil
	},
}

var packShipCmd = &cobra.Command{
	Use:   "ship CONTEXT_DIR",
	Short: "Pack a context directory into an artifacts archive, sign it, and submit it for build",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contextDir := "."
		if len(args) == 1 {
			contextDir = args[0]
		}
		node, _ := cmd.Flags().GetString("node")
		formfilePath, _ := cmd.Flags().GetString("formfile")
		keyPath, _ := cmd.Flags().GetString("key")
		if formfilePath == "" {
			formfilePath = filepath.Join(contextDir, "Formfile")
		}

		formfile, err := loadFormfile(formfilePath)
		if err != nil {
			return fmt.Errorf("failed to load formfile: %w", err)
		}
		artifacts, err := packContextDir(contextDir)
		if err != nil {
			return fmt.Errorf("failed to pack context directory: %w", err)
		}
		priv, err := loadPrivateKey(keyPath)
		if err != nil {
			return fmt.Errorf("failed to load private key: %w", err)
		}

		req, buildID, err := signBuildRequest(priv, formfile, artifacts)
		if err != nil {
			return fmt.Errorf("failed to sign build request: %w", err)
		}
		if err := submitBuildRequest(node, req); err != nil {
			return fmt.Errorf("failed to submit build request: %w", err)
		}

		fmt.Printf("Shipped %s (%d bytes of artifacts).\n", contextDir, len(artifacts))
		fmt.Printf("  Build ID: %s\n", buildID)
		fmt.Printf("\nCheck status with:\n  formation pack status --node %s --build-id %s\n", node, buildID)
		return nil
	},
}

var packStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Poll a build's status by build id",
	RunE: func(cmd *cobra.Command, args []string) error {
		node, _ := cmd.Flags().GetString("node")
		buildID, _ := cmd.Flags().GetString("build-id")
		if buildID == "" {
			return fmt.Errorf("--build-id is required")
		}

		resp, err := http.Get(fmt.Sprintf("%s/status/%s", node, buildID))
		if err != nil {
			return fmt.Errorf("failed to reach node: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("node returned %s: %s", resp.Status, string(body))
		}

		var status build.PackBuildStatus
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return fmt.Errorf("failed to decode status response: %w", err)
		}

		fmt.Printf("Build: %s\n", status.BuildID)
		fmt.Printf("Status: %s\n", status.Kind)
		if status.Reason != "" {
			fmt.Printf("Reason: %s\n", status.Reason)
		}
		if status.Instance != nil {
			fmt.Printf("Instance: %s\n", status.Instance.InstanceID)
			fmt.Printf("Instance status: %s\n", status.Instance.Status)
		}
		return nil
	},
}

func init() {
	packBuildCmd.Flags().String("node", "http://127.0.0.1:8080", "Build node base URL")
	packBuildCmd.Flags().String("formfile", "Formfile", "Path to the Formfile")
	packBuildCmd.Flags().String("artifacts", "artifacts.tar.gz", "Path to a pre-built artifacts archive")
	packBuildCmd.Flags().String("key", "", "Path to a file containing a hex-encoded secp256k1 private key (required)")
	packBuildCmd.MarkFlagRequired("key")

	packShipCmd.Flags().String("node", "http://127.0.0.1:8080", "Build node base URL")
	packShipCmd.Flags().String("formfile", "", "Path to the Formfile (defaults to CONTEXT_DIR/Formfile)")
	packShipCmd.Flags().String("key", "", "Path to a file containing a hex-encoded secp256k1 private key (required)")
	packShipCmd.MarkFlagRequired("key")

	packStatusCmd.Flags().String("node", "http://127.0.0.1:8080", "Build node base URL")
	packStatusCmd.Flags().String("build-id", "", "Build id to poll (required)")
	packStatusCmd.MarkFlagRequired("build-id")
}

func loadFormfile(path string) (types.Formfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Formfile{}, err
	}
	var f types.Formfile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return types.Formfile{}, fmt.Errorf("invalid formfile yaml: %w", err)
	}
	return f, nil
}

// loadPrivateKey reads a raw 32-byte secp256k1 private key encoded as
// hex from path, per spec.md §6's "private key supplied as hex (raw 32
// bytes)".
func loadPrivateKey(path string) (*secp256k1.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("key file must contain hex-encoded bytes: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("expected a 32-byte private key, got %d bytes", len(raw))
	}
	return secp256k1.PrivKeyFromBytes(raw), nil
}

// packContextDir tars and gzips every regular file under dir, the
// artifacts blob a build server unpacks into its workspace.
func packContextDir(dir string) ([]byte, error) {
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := tw.WriteHeader(&tar.Header{Name: rel, Mode: int64(info.Mode().Perm()), Size: int64(len(data))}); err != nil {
			return err
		}
		_, err = tw.Write(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	if _, err := gw.Write(tarBuf.Bytes()); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return gzBuf.Bytes(), nil
}

// signBuildRequest builds and signs a PackBuildRequest, computing
// hash = SHA3(name_hash || formfile_json) exactly as spec.md §4.3
// specifies, and returns the build_id the engine will derive once it
// recovers the same signer address.
func signBuildRequest(priv *secp256k1.PrivateKey, formfile types.Formfile, artifacts []byte) (build.PackBuildRequest, string, error) {
	formfileJSON, err := json.Marshal(formfile)
	if err != nil {
		return build.PackBuildRequest{}, "", err
	}
	nameHash := fcrypto.Hash256([]byte(formfile.Name))
	digest := fcrypto.Hash256(append(nameHash, formfileJSON...))

	sig, err := fcrypto.SignDigest(priv, digest)
	if err != nil {
		return build.PackBuildRequest{}, "", err
	}

	var hashArr [32]byte
	copy(hashArr[:], digest)

	address := fcrypto.AddressFromPubkey(priv.PubKey())
	buildID := fcrypto.DeriveBuildID(address, formfile.Name)

	req := build.PackBuildRequest{
		Request: build.PackRequest{
			Name:          formfile.Name,
			Formfile:      formfile,
			ArtifactsBlob: artifacts,
		},
		Hash: hashArr,
		Sig:  build.Signature{Sig: sig[:64], Rec: sig[64]},
	}
	return req, buildID, nil
}

func submitBuildRequest(node string, req build.PackBuildRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(node+"/build", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("node returned %s: %s", resp.Status, string(respBody))
	}
	return nil
}
