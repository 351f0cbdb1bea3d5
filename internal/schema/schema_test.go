package schema

import (
	"strings"
	"testing"

	clierr "github.com/ggonzalez94/sonic-agent/internal/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCommandSchema(t *testing.T) {
	root := &cobra.Command{Use: "sonic-agent"}
	root.PersistentFlags().Bool("json", false, "json output")
	runs := &cobra.Command{Use: "runs", Short: "run cmds"}
	show := &cobra.Command{Use: "show <run-id>", Short: "show a run", Run: func(*cobra.Command, []string) {}}
	list := &cobra.Command{Use: "list", Short: "list runs", Run: func(*cobra.Command, []string) {}}
	list.Flags().Int("limit", 20, "limit results")
	do := &cobra.Command{Use: "do <action-id> [params...]", Run: func(*cobra.Command, []string) {}}
	runs.AddCommand(show, list)
	root.AddCommand(runs, do)

	s, err := Build(root, "runs list")
	require.NoError(t, err)
	assert.Equal(t, "sonic-agent runs list", s.Path)
	require.Len(t, s.Flags, 1)
	assert.Equal(t, "limit", s.Flags[0].Name)
	assert.Equal(t, "20", s.Flags[0].Default)
	assert.Contains(t, s.Inherited, "json")

	s, err = Build(root, "do")
	require.NoError(t, err)
	assert.Equal(t, []ArgSchema{
		{Name: "action-id", Required: true},
		{Name: "params", Variadic: true},
	}, s.Args)

	tree, err := Build(root, "")
	require.NoError(t, err)
	require.Len(t, tree.Subcommands, 2)
	assert.Equal(t, "sonic-agent do", tree.Subcommands[0].Path)
	assert.Equal(t, "sonic-agent runs show", tree.Subcommands[1].Subcommands[1].Path)

	_, err = Build(root, "runs nope")
	assert.True(t, clierr.Is(err, clierr.CodeUsage))
}

var transferSchema = Fields(
	Field{Name: "amount", Type: TypeAmount, Required: true},
	Field{Name: "token", Type: TypeToken, Default: "S"},
	Field{Name: "to", Type: TypeAddress, Required: true},
)

func TestValidateReportsEveryProblem(t *testing.T) {
	err := transferSchema.Validate(map[string]any{"amount": "abc", "colour": "red"})
	require.Error(t, err)
	assert.Equal(t, clierr.CodeUsage, clierr.CodeOf(err))
	msg := err.Error()
	for _, want := range []string{"amount must be a decimal amount", "to is required", "unknown parameter colour"} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %q", want, msg)
	}
}

func TestBindAppliesDefaultsAndWeakTypes(t *testing.T) {
	var out struct {
		Amount string `mapstructure:"amount"`
		Token  string `mapstructure:"token"`
		To     string `mapstructure:"to"`
	}
	err := transferSchema.Bind(map[string]any{
		"amount": 1.5,
		"to":     "0x00000000000000000000000000000000000000aa",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "1.5", out.Amount)
	assert.Equal(t, "S", out.Token)
}

func TestBindIntegerAndBool(t *testing.T) {
	s := Fields(
		Field{Name: "slippage_bps", Type: TypeInteger, Default: 50},
		Field{Name: "auto_approve", Type: TypeBool},
	)
	var out struct {
		SlippageBps int64 `mapstructure:"slippage_bps"`
		AutoApprove bool  `mapstructure:"auto_approve"`
	}
	require.NoError(t, s.Bind(map[string]any{"auto_approve": "true"}, &out))
	assert.Equal(t, int64(50), out.SlippageBps)
	assert.True(t, out.AutoApprove)

	err := s.Bind(map[string]any{"slippage_bps": "fifty"}, &out)
	assert.Equal(t, clierr.CodeUsage, clierr.CodeOf(err))
}
