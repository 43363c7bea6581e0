package metrics

import (
	"context"
	"strings"
	"testing"

	"github.com/angelmondragon/pharmaflow-backend/pkg/logger"
)

func TestNewRegistryExportsRuntimeMetrics(t *testing.T) {
	families, err := NewRegistry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var sawGo bool
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), "go_") {
			sawGo = true
			break
		}
	}
	if !sawGo {
		t.Fatal("expected go runtime metrics")
	}
}

func TestServeWithoutAddrIsNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Serve(ctx, "", NewRegistry(), logger.Nop())
}
