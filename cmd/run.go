package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/autowebkit/autowebkit/automation"
	"github.com/autowebkit/autowebkit/config"
	"github.com/autowebkit/autowebkit/models"
	"github.com/autowebkit/autowebkit/pkg/logger"
	"github.com/autowebkit/autowebkit/services/browser"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type runOptions struct {
	params  []string
	dump    string
	timeout time.Duration
}

// runOutput is what `run` prints.
type runOutput struct {
	*models.ScriptExecution
	Markdown string `json:"markdown,omitempty"`
}

func newRunCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	opts := &runOptions{}

	c := &cobra.Command{
		Use:   "run <script-file>",
		Short: "Run a script file once against a fresh browser and print the result",
		Long: `Run loads a script definition (YAML or JSON), launches Chrome, plays the
script and prints the execution record as JSON. Nothing is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(opts.params)
			if err != nil {
				return err
			}
			switch opts.dump {
			case "", "html", "markdown":
			default:
				return errors.Errorf("unknown dump format %q (want html or markdown)", opts.dump)
			}
			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}
			if _, err := automation.Compile(def.WithParams(params)); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if opts.timeout > 0 {
				cfg.Scheduler.ScriptTimeout = timeoutSeconds(opts.timeout)
			}
			return runScript(cmd, cfg, def, params, opts.dump)
		},
	}
	c.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "script parameter as key=value, repeatable")
	c.Flags().StringVar(&opts.dump, "dump", "", "include the final document: html or markdown")
	c.Flags().DurationVar(&opts.timeout, "timeout", 0, "script timeout (default from config)")
	return c
}

func runScript(cmd *cobra.Command, cfg *config.Config, def *models.ScriptDefinition, params map[string]string, dump string) error {
	ctx := cmd.Context()

	manager := browser.NewManager(cfg, nil)
	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := manager.Stop(); err != nil {
			logger.Warn(context.Background(), "Failed to close browser: %v", err)
		}
	}()

	execution, err := manager.Run(ctx, def, params)
	if err != nil {
		return err
	}

	out := runOutput{ScriptExecution: execution}
	switch dump {
	case "markdown":
		doc, err := automation.ParseHTMLDocument(execution.Content)
		if err != nil {
			return err
		}
		if out.Markdown, err = doc.Markdown(""); err != nil {
			return err
		}
		execution.Content = ""
	case "":
		execution.Content = ""
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return errors.Wrap(err, "encode result")
	}
	if !execution.Success {
		return errors.New(execution.Message)
	}
	return nil
}

// timeoutSeconds rounds d up to whole seconds, the unit of script_timeout.
func timeoutSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

// parseParams turns key=value pairs into a map. The value may itself contain '='.
func parseParams(pairs []string) (map[string]string, error) {
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("invalid parameter %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

// loadDefinition reads a script definition. Files ending in .json are decoded
// as JSON, everything else as YAML.
func loadDefinition(path string) (*models.ScriptDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read script file")
	}

	def := &models.ScriptDefinition{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, def)
	} else {
		err = yaml.Unmarshal(data, def)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse script file %s", path)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return def, nil
}
