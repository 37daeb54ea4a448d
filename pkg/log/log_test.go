package log

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestGlobalLoggerChains(t *testing.T) {
	// Level methods hang off *zerolog.Logger, so the accessors must return
	// a pointer for direct chaining to compile.
	require.NotNil(t, L())
	L().Debug().Str(FieldRoomID, "room-1").Msg("chained on the global logger")
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	require.Same(t, L(), Ctx(context.Background()))
}

func TestCtxReturnsStoredLogger(t *testing.T) {
	child := zerolog.Nop()
	ctx := WithLogger(context.Background(), child)

	got := Ctx(ctx)
	require.NotNil(t, got)
	got.Info().Msg("chained on the context logger")
	require.Equal(t, zerolog.Disabled, got.GetLevel())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"fatal":   zerolog.FatalLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		require.Equal(t, want, parseLevel(in), in)
	}
}
