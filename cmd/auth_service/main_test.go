package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"dualauth/internal/config"
	"dualauth/internal/events"
	"dualauth/internal/storage"
)

func TestSetupLogger(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		env       string
		wantDebug bool
	}{
		{env: envLocal, wantDebug: true},
		{env: envDev, wantDebug: true},
		{env: envProd, wantDebug: false},
		{env: "unknown", wantDebug: false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			lgr := setupLogger(tt.env)
			if lgr == nil {
				t.Fatal("setupLogger() = nil")
			}
			if got := lgr.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestSetupFallbacks(t *testing.T) {
	ctx := context.Background()
	lgr := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := setupStorage(ctx, config.DB{}, true, lgr)
	if err != nil {
		t.Fatalf("setupStorage(memory) error = %v", err)
	}
	if _, ok := st.(*storage.MemoryStorage); !ok {
		t.Errorf("setupStorage(memory) = %T", st)
	}

	if _, ok := setupPublisher(config.AMQP{}, lgr).(events.NopPublisher); !ok {
		t.Error("setupPublisher() without url is not a no-op")
	}

	if rdb := setupRedis(ctx, config.Redis{}, lgr); rdb != nil {
		t.Error("setupRedis() without addr returned a client")
	}

	if setupSentry(envLocal, config.Sentry{}, lgr) {
		t.Error("setupSentry() without dsn reported enabled")
	}
}
