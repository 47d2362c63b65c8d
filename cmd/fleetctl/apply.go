package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cazacugmihai/fleetctl/pkg/pathid"
	"github.com/cazacugmihai/fleetctl/pkg/snapshot"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a group manifest file",
	Long: `Apply a YAML group manifest to a running control plane, creating
or updating the apps and sub-groups it declares.

Examples:
  fleetctl apply -f group.yaml
  fleetctl apply -f group.yaml --path /team/checkout --addr localhost:8080`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().String("addr", "localhost:8080", "control plane API address")
	applyCmd.Flags().String("path", "/", "group path the manifest is applied at")
	applyCmd.Flags().Bool("force", false, "force the update even if a deployment is already in flight")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// groupManifest is the YAML-facing shape of a group update: the same
// content snapshot.GroupUpdate's structural case carries, but with plain
// strings in place of pathid.PathId so it decodes with a bare yaml.Unmarshal.
type groupManifest struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		Path string `yaml:"path"`
	} `yaml:"metadata"`
	Spec struct {
		Apps         []appManifest  `yaml:"apps"`
		Groups       []groupDefYAML `yaml:"groups"`
		Dependencies []string       `yaml:"dependencies"`
	} `yaml:"spec"`
}

type appManifest struct {
	Id           string            `yaml:"id"`
	Cmd          string            `yaml:"cmd"`
	Image        string            `yaml:"image"`
	Args         []string          `yaml:"args"`
	Env          map[string]string `yaml:"env"`
	Instances    int               `yaml:"instances"`
	CPU          float64           `yaml:"cpu"`
	MemMB        float64           `yaml:"memMB"`
	DiskMB       float64           `yaml:"diskMB"`
	Dependencies []string          `yaml:"dependencies"`
}

type groupDefYAML struct {
	Id           string         `yaml:"id"`
	Apps         []appManifest  `yaml:"apps"`
	Groups       []groupDefYAML `yaml:"groups"`
	Dependencies []string       `yaml:"dependencies"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	addr, _ := cmd.Flags().GetString("addr")
	path, _ := cmd.Flags().GetString("path")
	force, _ := cmd.Flags().GetBool("force")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var manifest groupManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Kind != "" && manifest.Kind != "Group" {
		return fmt.Errorf("unsupported manifest kind: %s", manifest.Kind)
	}
	if manifest.Metadata.Path != "" {
		path = manifest.Metadata.Path
	}

	update := snapshot.GroupUpdate{
		Apps:         toAppSpecs(manifest.Spec.Apps),
		Groups:       toGroupDefs(manifest.Spec.Groups),
		Dependencies: toPathIds(manifest.Spec.Dependencies),
	}

	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	url := fmt.Sprintf("http://%s/v2/groups%s?force=%t", addr, groupsSuffix(path), force)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("contact control plane at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	var result map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("apply rejected: status %d: %v", resp.StatusCode, result)
	}

	fmt.Printf("applied %s: deployment %v at version %v\n", path, result["deploymentId"], result["version"])
	return nil
}

// groupsSuffix renders path as the trailing path segment appended after
// /v2/groups, empty for the root group.
func groupsSuffix(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}

func toAppSpecs(apps []appManifest) []snapshot.AppSpec {
	specs := make([]snapshot.AppSpec, 0, len(apps))
	for _, a := range apps {
		spec := snapshot.AppSpec{
			Id:           pathFor(a.Id),
			Cmd:          a.Cmd,
			Instances:    a.Instances,
			Resources:    snapshot.Resources{CPU: a.CPU, MemMB: a.MemMB, DiskMB: a.DiskMB},
			Backoff:      snapshot.DefaultBackoff,
			Dependencies: toPathIds(a.Dependencies),
		}
		if a.Image != "" {
			spec.Container = &snapshot.ContainerSpec{Image: a.Image, Args: a.Args, Env: a.Env}
		}
		if spec.Instances == 0 {
			spec.Instances = 1
		}
		specs = append(specs, spec)
	}
	return specs
}

func toGroupDefs(groups []groupDefYAML) []snapshot.GroupDef {
	defs := make([]snapshot.GroupDef, 0, len(groups))
	for _, g := range groups {
		defs = append(defs, snapshot.GroupDef{
			Id:           pathFor(g.Id),
			Apps:         toAppSpecs(g.Apps),
			Groups:       toGroupDefs(g.Groups),
			Dependencies: toPathIds(g.Dependencies),
		})
	}
	return defs
}

func pathFor(raw string) pathid.PathId {
	if raw == "" {
		return pathid.PathId{}
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return pathid.New(raw)
}

func toPathIds(raw []string) []pathid.PathId {
	if len(raw) == 0 {
		return nil
	}
	ids := make([]pathid.PathId, 0, len(raw))
	for _, r := range raw {
		ids = append(ids, pathFor(r))
	}
	return ids
}
