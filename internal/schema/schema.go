package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var argPattern = regexp.MustCompile(`[<\[]([a-z][a-z0-9 -]*?)(\.\.\.)?[>\]]`)

// CommandSchema is the machine-readable shape of one CLI command and the
// commands below it.
type CommandSchema struct {
	Path        string          `json:"path"`
	Use         string          `json:"use"`
	Short       string          `json:"short"`
	Args        []ArgSchema     `json:"args,omitempty"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Inherited   []string        `json:"inherited_flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

// ArgSchema is a positional argument parsed from the command's usage line.
type ArgSchema struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Variadic bool   `json:"variadic,omitempty"`
}

type FlagSchema struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Usage   string `json:"usage"`
	Default string `json:"default,omitempty"`
}

// Build describes the command at commandPath (space separated, relative to
// root). An empty path describes the whole tree.
func Build(root *cobra.Command, commandPath string) (CommandSchema, error) {
	cmd := root
	for _, name := range strings.Fields(commandPath) {
		next := child(cmd, name)
		if next == nil {
			return CommandSchema{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown command path %q", commandPath))
		}
		cmd = next
	}
	return describe(cmd), nil
}

func child(cmd *cobra.Command, name string) *cobra.Command {
	for _, c := range cmd.Commands() {
		if c.Name() == name || c.HasAlias(name) {
			return c
		}
	}
	return nil
}

func describe(cmd *cobra.Command) CommandSchema {
	out := CommandSchema{
		Path:  strings.TrimSpace(cmd.CommandPath()),
		Use:   cmd.Use,
		Short: cmd.Short,
		Args:  parseArgs(cmd.Use),
		Flags: flags(cmd.NonInheritedFlags()),
	}
	cmd.InheritedFlags().VisitAll(func(f *pflag.Flag) {
		out.Inherited = append(out.Inherited, f.Name)
	})
	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		out.Subcommands = append(out.Subcommands, describe(sub))
	}
	sort.Slice(out.Subcommands, func(i, j int) bool { return out.Subcommands[i].Path < out.Subcommands[j].Path })
	return out
}

func parseArgs(use string) []ArgSchema {
	_, rest, ok := strings.Cut(use, " ")
	if !ok {
		return nil
	}
	var args []ArgSchema
	for _, m := range argPattern.FindAllStringSubmatchIndex(rest, -1) {
		args = append(args, ArgSchema{
			Name:     rest[m[2]:m[3]],
			Required: rest[m[0]] == '<',
			Variadic: m[4] >= 0,
		})
	}
	return args
}

func flags(set *pflag.FlagSet) []FlagSchema {
	var items []FlagSchema
	set.VisitAll(func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" {
			return
		}
		items = append(items, FlagSchema{Name: f.Name, Type: f.Value.Type(), Usage: f.Usage, Default: f.DefValue})
	})
	return items
}
