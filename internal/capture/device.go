package capture

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// recorderProfile describes one known capture CLI and how to ask it for raw
// PCM16LE mono on stdout.
type recorderProfile struct {
	binary string
	args   func(sampleRate int) []string
}

var recorderProfiles = []recorderProfile{
	{
		binary: "pw-record",
		args: func(rate int) []string {
			return []string{"--rate", strconv.Itoa(rate), "--channels", "1", "--format", "s16", "-"}
		},
	},
	{
		binary: "arecord",
		args: func(rate int) []string {
			return []string{"-q", "-f", "S16_LE", "-r", strconv.Itoa(rate), "-c", "1", "-t", "raw", "-"}
		},
	},
	{
		binary: "sox",
		args: func(rate int) []string {
			return []string{"-q", "-d", "-t", "raw", "-r", strconv.Itoa(rate), "-e", "signed", "-b", "16", "-c", "1", "-"}
		},
	},
	{
		binary: "ffmpeg",
		args: func(rate int) []string {
			return []string{"-loglevel", "quiet", "-f", "pulse", "-i", "default",
				"-ar", strconv.Itoa(rate), "-ac", "1", "-f", "s16le", "-"}
		},
	},
}

// CommandDevice captures audio by running an external recorder process and
// reading raw PCM16LE from its stdout.
type CommandDevice struct {
	path string
	args func(sampleRate int) []string
}

// DetectRecorder resolves a capture CLI. With an empty override it probes
// PATH for the known recorders in preference order. An override names one of
// the known recorders, or gives a full command template whose "{rate}"
// fields are substituted with the sample rate.
func DetectRecorder(override string) (*CommandDevice, error) {
	override = strings.TrimSpace(override)
	if override != "" {
		return recorderFromOverride(override)
	}
	for _, p := range recorderProfiles {
		path, err := exec.LookPath(p.binary)
		if err != nil {
			continue
		}
		return &CommandDevice{path: path, args: p.args}, nil
	}
	return nil, fmt.Errorf("no capture tool found in PATH (tried pw-record, arecord, sox, ffmpeg); set VOICECHAT_RECORDER_CMD")
}

func recorderFromOverride(override string) (*CommandDevice, error) {
	fields := strings.Fields(override)
	bin := fields[0]
	if len(fields) == 1 {
		for _, p := range recorderProfiles {
			if p.binary == bin {
				path, err := exec.LookPath(bin)
				if err != nil {
					return nil, fmt.Errorf("recorder %q: %w", bin, err)
				}
				return &CommandDevice{path: path, args: p.args}, nil
			}
		}
		return nil, fmt.Errorf("unknown recorder %q; pass a full command with a {rate} placeholder", bin)
	}

	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("recorder %q: %w", bin, err)
	}
	tail := fields[1:]
	return &CommandDevice{
		path: path,
		args: func(rate int) []string {
			out := make([]string, len(tail))
			for i, a := range tail {
				out[i] = strings.ReplaceAll(a, "{rate}", strconv.Itoa(rate))
			}
			return out
		},
	}, nil
}

func (d *CommandDevice) Start(sampleRate int) (io.ReadCloser, error) {
	cmd := exec.Command(d.path, d.args(sampleRate)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start recorder %s: %w", d.path, err)
	}
	return &processStream{ReadCloser: stdout, cmd: cmd}, nil
}

// processStream ties stream closure to recorder process teardown.
type processStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (p *processStream) Close() error {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	err := p.ReadCloser.Close()
	p.cmd.Wait()
	return err
}
