package runner

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-multitest/types"
)

const (
	passScript = `echo '{"kind":"PASSED","duration":0.01}'`
)

func resultScript(kind types.Kind, seconds float64) string {
	return fmt.Sprintf(`echo; echo '{"kind":"%s","duration":%g}'`, kind, seconds)
}

// scriptedBuilder runs `sh -c script` for each unit; units without a script
// pass. It records the order in which units were spawned.
type scriptedBuilder struct {
	scripts map[string]string

	mu      sync.Mutex
	spawned []string
}

func newScriptedBuilder(scripts map[string]string) *scriptedBuilder {
	return &scriptedBuilder{scripts: scripts}
}

func (b *scriptedBuilder) Build(payload []byte) (*exec.Cmd, error) {
	p, err := types.DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.spawned = append(b.spawned, p.Unit)
	b.mu.Unlock()

	script, ok := b.scripts[p.Unit]
	if !ok {
		script = passScript
	}
	return exec.Command("sh", "-c", script), nil
}

func (b *scriptedBuilder) Spawned() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.spawned...)
}

func testSnapshot(poolSize int) types.ConfigSnapshot {
	return types.ConfigSnapshot{
		PoolSize:         poolSize,
		Timeout:          time.Minute,
		WorkDir:          "/tmp",
		GoBinary:         "go",
		SlowThreshold:    time.Hour,
		ProgressInterval: time.Hour,
	}
}

func discardLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}
