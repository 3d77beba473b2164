package roomconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	root, err := Load(filepath.Join(t.TempDir(), "nonexistent.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(root.Rooms) != 0 {
		t.Errorf("expected no rooms for a missing file, got %v", root.Rooms)
	}
}

func TestLoad_ParsesAndAppliesDefaults(t *testing.T) {
	const doc = `{
		rooms: {
			common: {
				command: {
					history_size: 20,
					mode_classifier: { model: "gpt-5", labels: { chat: "!chat" } },
					modes: {
						chat: {
							prompt: "be nice",
							triggers: { "!chat": {}, "!ask": { steering: false } },
						},
					},
				},
			},
		},
	}`
	path := filepath.Join(t.TempDir(), "rooms.json5")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	root, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	common := root.Rooms["common"]
	if common.Command.ResponseMaxBytes != defaultResponseMaxBytes {
		t.Errorf("expected response_max_bytes default applied after load, got %d", common.Command.ResponseMaxBytes)
	}

	triggers := common.Command.Modes["chat"].Triggers
	if len(triggers) != 2 {
		t.Fatalf("expected 2 ordered triggers, got %d", len(triggers))
	}
	if triggers[0].Trigger != "!chat" {
		t.Errorf("expected declaration order preserved, first trigger !chat, got %q", triggers[0].Trigger)
	}
	if triggers[1].Trigger != "!ask" || triggers[1].Overrides.Steering == nil || *triggers[1].Overrides.Steering {
		t.Errorf("expected second trigger !ask with steering=false, got %+v", triggers[1])
	}
}
