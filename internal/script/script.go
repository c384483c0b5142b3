package script

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/badgecmd/badgebus/internal/protocol/badge"
)

var ErrInvalidScript = errors.New("invalid script")

// Script 一组按顺序下发的帧
type Script struct {
	Name        string `yaml:"name" toml:"name"`
	Description string `yaml:"description" toml:"description"`
	StopOnError bool   `yaml:"stop_on_error" toml:"stop_on_error"`
	Steps       []Step `yaml:"steps" toml:"steps"`
}

// Step 单步：构造帧、可选等待、可选等待应答并校验
type Step struct {
	Name        string        `yaml:"name" toml:"name"`
	Command     int           `yaml:"command" toml:"command"`
	Payload     string        `yaml:"payload" toml:"payload"`
	Flags       badge.Flags   `yaml:"flags" toml:"flags"`
	Delay       time.Duration `yaml:"delay" toml:"delay"`
	Repeat      int           `yaml:"repeat" toml:"repeat"`
	ExpectReply bool          `yaml:"expect_reply" toml:"expect_reply"`
	Expect      *Expectation  `yaml:"expect" toml:"expect"`

	frame badge.Frame
}

// Expectation 对应答的检查，只在 ExpectReply 时生效
type Expectation struct {
	Payload  *string `yaml:"payload" toml:"payload"`
	NoErrors bool    `yaml:"no_errors" toml:"no_errors"` // 应答不得带错误位且校验不得失败
}

// Load 读取并校验脚本，.toml 按 TOML 解析，其余按 YAML
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", path, err)
	}
	parse := Parse
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		parse = ParseTOML
	}
	s, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse 解析 YAML 脚本并预先构造每一步的帧
func Parse(data []byte) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	return prepare(&s)
}

// ParseTOML 同 Parse，步骤写作 [[steps]] 表数组
func ParseTOML(data []byte) (*Script, error) {
	var s Script
	meta, err := toml.Decode(string(data), &s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if extra := meta.Undecoded(); len(extra) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v", ErrInvalidScript, extra)
	}
	return prepare(&s)
}

func prepare(s *Script) (*Script, error) {
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidScript)
	}
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Name == "" {
			st.Name = fmt.Sprintf("step-%d", i+1)
		}
		if st.Command < 0 || st.Command > 0xFF {
			return nil, fmt.Errorf("%w: %s: command %d out of range", ErrInvalidScript, st.Name, st.Command)
		}
		if st.Repeat < 0 {
			return nil, fmt.Errorf("%w: %s: negative repeat", ErrInvalidScript, st.Name)
		}
		if st.Repeat == 0 {
			st.Repeat = 1
		}
		payload, err := badge.ParseHexBytes(st.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidScript, st.Name, err)
		}
		f, err := badge.NewFrame(byte(st.Command), badge.Options{Payload: payload, Flags: st.Flags})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidScript, st.Name, err)
		}
		if st.Expect != nil && st.Expect.Payload != nil {
			if _, err := badge.ParseHexBytes(*st.Expect.Payload); err != nil {
				return nil, fmt.Errorf("%w: %s: expect: %v", ErrInvalidScript, st.Name, err)
			}
		}
		st.frame = f
	}
	return s, nil
}

// Frame 该步下发的帧
func (st Step) Frame() badge.Frame { return st.frame }

// check 校验应答
func (e *Expectation) check(reply badge.Frame) error {
	if e == nil {
		return nil
	}
	if e.Payload != nil {
		want, _ := badge.ParseHexBytes(*e.Payload)
		if got := reply.Payload(); !bytes.Equal(got, want) {
			return fmt.Errorf("payload mismatch: got %s want %s", badge.ByteList(got), badge.ByteList(want))
		}
	}
	if e.NoErrors {
		fl := reply.Flags()
		if fl.InvalidData || fl.CommandNotSupported || fl.ChecksumNotValid || fl.TooLongTmp || fl.TooLong {
			return fmt.Errorf("reply carries error flags: %s", reply)
		}
		if reply.ChecksumState() == badge.ChecksumInvalid {
			return fmt.Errorf("reply checksum invalid: %s", reply)
		}
	}
	return nil
}
