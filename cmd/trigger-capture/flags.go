package main

import (
	"strconv"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagGroup is a set of mutually exclusive boolean flags writing one
// setting. Flags are applied in command-line order, so the last one given
// wins.
type flagGroup struct {
	key      string // settings key
	selected string // empty until a flag of the group is given
}

// groupFlag is one member of a flagGroup.
type groupFlag struct {
	group *flagGroup
	value string
}

func (f *groupFlag) String() string {
	return strconv.FormatBool(f.group != nil && f.group.selected == f.value)
}

func (f *groupFlag) Set(s string) error {
	on, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if on {
		f.group.selected = f.value
	}
	return nil
}

func (f *groupFlag) Type() string { return "bool" }

// add registers name as a member selecting value.
func (g *flagGroup) add(fs *pflag.FlagSet, name, value, usage string) {
	fs.VarPF(&groupFlag{group: g, value: value}, name, "", usage).NoOptDefVal = "true"
}

// apply writes the selection to v when one of the group's flags was given.
func (g *flagGroup) apply(v *viper.Viper) {
	if g.selected != "" {
		v.Set(g.key, g.selected)
	}
}

// flagBinding maps a flag to its settings key.
type flagBinding struct {
	flag string
	key  string
}

var boundFlags = []flagBinding{
	{"output", "output.dir"},
	{"sink", "output.sink"},
	{"buffers", "buffers"},
	{"pre-triggers", "pre_triggers"},
	{"pre-trigger-interval", "pre_trigger_interval"},
	{"stream-on-settle", "stream_on_settle"},
	{"reopen-settle", "reopen_settle"},
	{"max-frames", "max_frames"},
	{"metrics-addr", "metrics.addr"},
	{"mqtt-broker", "mqtt.broker"},
	{"mqtt-topic", "mqtt.topic"},
	{"wait-device", "wait_device"},
	{"debug", "log.debug"},
	{"json-logs", "log.json"},
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, b := range boundFlags {
		if err := v.BindPFlag(b.key, fs.Lookup(b.flag)); err != nil {
			return err
		}
	}
	// --no-reopen inverts verify_reopen
	if f := fs.Lookup("no-reopen"); f != nil && f.Changed {
		skip, err := fs.GetBool("no-reopen")
		if err != nil {
			return err
		}
		if skip {
			v.Set("verify_reopen", false)
		}
	}
	return nil
}
