package store_test

import (
	"testing"

	"github.com/felixgeelhaar/taskgraph/internal/store"
	"github.com/felixgeelhaar/taskgraph/internal/store/storetest"
)

func TestMemoryConformance(t *testing.T) {
	storetest.Run(t, store.NewMemory())
}
