// Package main provides the modelgraph CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/systemshift/modelgraph/internal/config"
	"github.com/systemshift/modelgraph/internal/executor"
	"github.com/systemshift/modelgraph/internal/identity"
	"github.com/systemshift/modelgraph/internal/index"
	"github.com/systemshift/modelgraph/internal/logger"
	"github.com/systemshift/modelgraph/internal/model"
	"github.com/systemshift/modelgraph/internal/persistence"
	"github.com/systemshift/modelgraph/internal/serializer"
	"github.com/systemshift/modelgraph/internal/server/graph"
	"github.com/systemshift/modelgraph/internal/statement"
	"github.com/systemshift/modelgraph/internal/stream"
)

var (
	configPath  string
	jsonFlag    bool
	verbose     bool
	indexDB     string
	pushTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "modelgraph",
	Short:         "Inspect model streams and mirror them into a graph store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		l, err := logger.New("development", level)
		if err != nil {
			return err
		}
		logger.SetLogger(l)
		return nil
	},
}

var headerCmd = &cobra.Command{
	Use:   "header <file>",
	Short: "Print the header of a model stream",
	Args:  cobra.ExactArgs(1),
	RunE:  runHeader,
}

var indexCmd = &cobra.Command{
	Use:   "index <file>",
	Short: "List the reference targets of a model stream",
	Long:  `Scans the stream without building the tree. With --db the targets are also recorded in the reference index.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

var digestCmd = &cobra.Command{
	Use:   "digest <file>",
	Short: "Print per-root and whole-file digests",
	Args:  cobra.ExactArgs(1),
	RunE:  runDigest,
}

var statementsCmd = &cobra.Command{
	Use:   "statements <file>",
	Short: "Print the graph statements a model produces, grouped by phase",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatements,
}

var pushCmd = &cobra.Command{
	Use:   "push <file>",
	Short: "Write a model into the configured graph store",
	Args:  cobra.ExactArgs(1),
	RunE:  runPush,
}

var copyCmd = &cobra.Command{
	Use:   "copy <in> <out>",
	Short: "Re-encode a model stream; a .zst output is compressed",
	Args:  cobra.ExactArgs(2),
	RunE:  runCopy,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "modelgraph.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Output as JSON instead of YAML")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	indexCmd.Flags().StringVar(&indexDB, "db", "", "Record targets in this reference index database")
	pushCmd.Flags().DurationVar(&pushTimeout, "timeout", 5*time.Minute, "How long to wait for the graph write")

	rootCmd.AddCommand(headerCmd, indexCmd, digestCmd, statementsCmd, pushCmd, copyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func output(w io.Writer, v any) error {
	if jsonFlag {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(v)
}

func source(path string) *stream.FileSource {
	src := stream.NewFileSource(path)
	src.Readonly = true
	return src
}

func loadModel(p *persistence.Persistence, path string) (*model.Model, error) {
	src := source(path)
	h, err := p.ReadHeader(src)
	if err != nil {
		return nil, err
	}
	return p.ReadModel(h, src)
}

type headerOutput struct {
	Name          string            `json:"name" yaml:"name"`
	Model         string            `json:"model" yaml:"model"`
	Module        string            `json:"module,omitempty" yaml:"module,omitempty"`
	DoNotGenerate bool              `json:"do_not_generate" yaml:"do_not_generate"`
	Properties    map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

func runHeader(cmd *cobra.Command, args []string) error {
	p := persistence.New(nil, nil, logger.L())
	h, err := p.ReadHeader(source(args[0]))
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), headerOutput{
		Name:          h.Identity.Name,
		Model:         identity.ModelValue(h.Identity.Model),
		Module:        h.Identity.Module.String(),
		DoNotGenerate: h.DoNotGenerate,
		Properties:    h.OptionalProperties,
	})
}

type idCollector struct {
	local, external []model.NodeID
}

func (c *idCollector) LocalNodeRef(id model.NodeID)    { c.local = append(c.local, id) }
func (c *idCollector) ExternalNodeRef(id model.NodeID) { c.external = append(c.external, id) }

func idStrings(ids []model.NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	sort.Strings(out)
	return out
}

// indexCallback is what runIndex reports targets to
type indexCallback interface {
	persistence.IndexCallback
	Local() []model.NodeID
	External() []model.NodeID
}

func (c *idCollector) Local() []model.NodeID    { return c.local }
func (c *idCollector) External() []model.NodeID { return c.external }

func runIndex(cmd *cobra.Command, args []string) error {
	rc, err := source(args[0]).OpenReader()
	if err != nil {
		return err
	}
	defer rc.Close()

	ctx := cmd.Context()
	var cb indexCallback = &idCollector{}
	if indexDB != "" {
		store, err := index.Open(ctx, indexDB, logger.L())
		if err != nil {
			return err
		}
		defer store.Close()
		cb = store.Recorder()
	}

	p := persistence.New(nil, nil, logger.L())
	h, err := p.Index(rc, cb)
	if err != nil {
		return err
	}
	modelID := identity.ModelValue(h.Identity.Model)
	if rec, ok := cb.(*index.Recorder); ok {
		if err := rec.Flush(ctx, modelID); err != nil {
			return err
		}
	}

	return output(cmd.OutOrStdout(), map[string]any{
		"model":    modelID,
		"local":    idStrings(cb.Local()),
		"external": idStrings(cb.External()),
	})
}

func runDigest(cmd *cobra.Command, args []string) error {
	p := persistence.New(nil, nil, logger.L())
	digests, err := p.DigestMap(source(args[0]))
	if err != nil {
		return err
	}
	return output(cmd.OutOrStdout(), digests)
}

type statementOutput struct {
	Phase  string         `json:"phase" yaml:"phase"`
	Kind   string         `json:"kind" yaml:"kind"`
	Query  string         `json:"query" yaml:"query"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

func runStatements(cmd *cobra.Command, args []string) error {
	m, err := loadModel(persistence.New(nil, nil, logger.L()), args[0])
	if err != nil {
		return err
	}
	stmts, err := serializer.SerializeModel(m, nil)
	if err != nil {
		return err
	}

	nodes, refs := executor.Partition(stmts)
	var out []statementOutput
	add := func(phase string, stmts []statement.Statement) {
		for _, s := range stmts {
			c := s.Cypher()
			out = append(out, statementOutput{Phase: phase, Kind: statement.Describe(s), Query: c.Query, Params: c.Params})
		}
	}
	add(executor.PhaseNodes, nodes)
	add(executor.PhaseReferences, refs)
	return output(cmd.OutOrStdout(), out)
}

func runPush(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.L()

	ctx := cmd.Context()
	repo, err := graph.New(ctx, graph.Config{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.User,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	}, log)
	if err != nil {
		return err
	}
	defer repo.Close(ctx)

	exec := executor.New(repo, log, executor.WithQueueSize(cfg.Executor.QueueSize))
	defer exec.Close()
	p := persistence.New(exec, model.NewRegistry(), log,
		persistence.WithResetOnSave(cfg.Neo4j.ResetOnSave),
		persistence.WithStoreRoot(cfg.Neo4j.Database))

	m, err := loadModel(p, args[0])
	if err != nil {
		return err
	}
	batch, err := p.Save(ctx, m, stream.NewMemorySource(args[0], nil))
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	if err := batch.Wait(waitCtx); err != nil {
		return err
	}
	log.Info("Model pushed", zap.String("model", m.Identity().String()))
	return output(cmd.OutOrStdout(), map[string]int{
		executor.PhaseNodes:      len(batch.Nodes.Statements()),
		executor.PhaseReferences: len(batch.References.Statements()),
	})
}

func runCopy(cmd *cobra.Command, args []string) error {
	p := persistence.New(nil, nil, logger.L())
	m, err := loadModel(p, args[0])
	if err != nil {
		return err
	}
	if _, err := p.Save(cmd.Context(), m, stream.NewFileSource(args[1])); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[1])
	return nil
}
