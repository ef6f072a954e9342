package gpt

import (
	"os"
	"testing"

	"github.com/onnwee/chat-copilot/backend/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}
