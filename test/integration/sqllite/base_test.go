package sqllite

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/RealZimboGuy/stepflow/internal/config"
)

var portBase int32 = 9018 // starting port number (can be anything safe)

func nextPort() int {
	return int(atomic.AddInt32(&portBase, 1))
}

func runTestWithSetup(t *testing.T, testFunc func(t *testing.T, port int)) {
	port := nextPort()
	SetupSqlLiteTestInstance(t, filepath.Join(t.TempDir(), fmt.Sprintf("stepflow-test-%d.db", port)))
	testFunc(t, port)
}

func SetupSqlLiteTestInstance(t *testing.T, filename string) {
	t.Setenv(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)
	t.Setenv(config.DATABASE_SQLLITE_FILE_NAME, filename)
	t.Setenv(config.SCHEDULER_TYPE, config.SCHEDULER_TYPE_DATABASE)
}
