package roomconfig

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

const defaultResponseMaxBytes = 600

// Default returns an empty Root — a room config file declares everything
// meaningful (modes, classifier, triggers) itself, so there is little to
// default beyond per-room fallbacks applied in applyDefaults.
func Default() *Root {
	return &Root{Rooms: map[string]RoomConfig{}}
}

// Load reads room configuration from a JSON5 file, overlaying it onto
// Default(). A missing file is not an error — it yields the bare defaults,
// matching the teacher's config.Load behavior for optional config files.
func Load(path string) (*Root, error) {
	root := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return root, nil
		}
		return nil, fmt.Errorf("roomconfig: read %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, root); err != nil {
		return nil, fmt.Errorf("roomconfig: parse %s: %w", path, err)
	}
	for name, room := range root.Rooms {
		room.applyDefaults()
		root.Rooms[name] = room
	}
	return root, nil
}

// applyDefaults fills hard-coded fallbacks the config format leaves
// optional: response_max_bytes defaults to 600, default_mode to "classifier".
func (r *RoomConfig) applyDefaults() {
	if r.Command.ResponseMaxBytes == 0 {
		r.Command.ResponseMaxBytes = defaultResponseMaxBytes
	}
	if r.Command.DefaultMode == "" {
		r.Command.DefaultMode = "classifier"
	}
	if r.Command.Modes == nil {
		r.Command.Modes = map[string]ModeConfig{}
	}
}
