package playback

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// playerProfile describes one known playback CLI that accepts a WAV stream
// on stdin.
type playerProfile struct {
	binary string
	args   []string
}

var playerProfiles = []playerProfile{
	{binary: "pw-play", args: []string{"-"}},
	{binary: "aplay", args: []string{"-q", "-"}},
	{binary: "paplay", args: nil},
	{binary: "ffplay", args: []string{"-loglevel", "quiet", "-autoexit", "-nodisp", "-i", "-"}},
}

// CommandPlayer plays segments by piping WAV bytes into an external player
// process. Cancelling the context kills the process, which is how Clear
// halts in-progress playback.
type CommandPlayer struct {
	path string
	args []string
}

// DetectPlayer resolves a playback CLI, probing PATH unless an override
// command is given.
func DetectPlayer(override string) (*CommandPlayer, error) {
	override = strings.TrimSpace(override)
	if override != "" {
		fields := strings.Fields(override)
		path, err := exec.LookPath(fields[0])
		if err != nil {
			return nil, fmt.Errorf("player %q: %w", fields[0], err)
		}
		return &CommandPlayer{path: path, args: fields[1:]}, nil
	}
	for _, p := range playerProfiles {
		path, err := exec.LookPath(p.binary)
		if err != nil {
			continue
		}
		return &CommandPlayer{path: path, args: p.args}, nil
	}
	return nil, fmt.Errorf("no playback tool found in PATH (tried pw-play, aplay, paplay, ffplay); set VOICECHAT_PLAYER_CMD")
}

func (p *CommandPlayer) Play(ctx context.Context, wav []byte) error {
	cmd := exec.CommandContext(ctx, p.path, p.args...)
	cmd.Stdin = bytes.NewReader(wav)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("player %s: %w", p.path, err)
	}
	return nil
}
