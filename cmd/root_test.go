package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"classify", "matrix", "delta", "optimize", "analyze", "validate", "serve", "runs"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "condition-eval", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"thresholds", "records", "question", "model"} {
		flag := rootCmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, "root command should have --%s flag", name)
		assert.Equal(t, "", flag.DefValue)
	}
}

func TestDeltaCommand_Flags(t *testing.T) {
	flag := deltaCmd.Flags().Lookup("candidate")
	require.NotNil(t, flag, "delta command should have --candidate flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestOptimizeCommand_Flags(t *testing.T) {
	for _, name := range []string{"side", "write", "max-iterations", "timeout", "workers", "step", "format", "output"} {
		assert.NotNil(t, optimizeCmd.Flags().Lookup(name), "optimize command should have --%s flag", name)
	}
}

func TestOutputFlags_Defaults(t *testing.T) {
	for _, cmd := range []string{"classify", "matrix", "delta", "optimize", "analyze"} {
		c, _, err := rootCmd.Find([]string{cmd})
		require.NoError(t, err)
		flag := c.Flags().Lookup("format")
		require.NotNil(t, flag, "%s should have --format", cmd)
		assert.Equal(t, "table", flag.DefValue)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
