package devsim

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SaraRegibo/cgse/internal/config"
	"github.com/SaraRegibo/cgse/internal/scpi"
)

// Profile describes one simulated model.
type Profile struct {
	Name     string
	Identity string
	Channels int
	// Defaults are the register values after *RST.
	Defaults map[string]string
	// Global headers are shared by all channels.
	Global []string
	// Handle answers model specific commands; handled is false to fall back
	// to the generic register store.
	Handle func(r *Registers, cmd Command) (reply Reply, handled bool)
}

func (p *Profile) isGlobal(header string) bool {
	for _, g := range p.Global {
		if g == header {
			return true
		}
	}
	return false
}

// LookupProfile returns the profile of a device family.
func LookupProfile(name string) (*Profile, error) {
	switch strings.ToLower(name) {
	case config.FamilyTGF4000:
		return TGF4000(), nil
	case config.FamilyPMXA:
		return PMXA(), nil
	}
	return nil, fmt.Errorf("unknown simulator profile %q", name)
}

// TGF4000 simulates a two channel Aim-TTi TGF4162.
func TGF4000() *Profile {
	return &Profile{
		Name:     config.FamilyTGF4000,
		Identity: "THURLBY THANDAR, TGF4162, 527758, 01.00-02.10-01.20",
		Channels: 2,
		Defaults: map[string]string{
			"WAVE":       "SINE",
			"FREQ":       "1.000000e+03",
			"PER":        "1.000000e-03",
			"AMPLRNG":    "AUTO",
			"AMPL":       "1.000",
			"HILVL":      "0.500",
			"LOLVL":      "-0.500",
			"DCOFFS":     "0.000",
			"PHASE":      "0.0",
			"SQRSYMM":    "50.0",
			"RMPSYMM":    "50.0",
			"OUTPUT":     "OFF",
			"ZLOAD":      "50",
			"SYNCOUT":    "OFF",
			"SYNCTYPE":   "AUTO",
			"ARBLOAD":    "ARB1",
			"CNTRSWT":    "OFF",
			"CNTRCPLNG":  "AC",
			"CNTRTYPE":   "FREQUENCY",
			"CHN2CONFIG": "MAINOUT",
			"ARBDCOFFS":  "0.000",
			"ARBFILTER":  "NORMAL",
			"BEEPMODE":   "ON",
			"ADDRESS":    "5",
			"IPADDR":     "127.0.0.1",
			"NETMASK":    "255.255.255.0",
		},
		Global: []string{"CHN2CONFIG", "ARBDCOFFS", "ARBFILTER", "BEEPMODE", "ADDRESS", "IPADDR", "NETMASK"},
		Handle: handleTGF4000,
	}
}

func isArbSlot(header string) bool {
	return len(header) == 4 && strings.HasPrefix(header, "ARB") && header[3] >= '1' && header[3] <= '4'
}

func handleTGF4000(r *Registers, cmd Command) (Reply, bool) {
	switch {
	case cmd.Header == "CHN":
		if cmd.Query {
			return reply(strconv.Itoa(r.Channel())), true
		}
		ch, err := strconv.Atoi(strings.TrimSpace(cmd.Args))
		if err != nil || r.SelectChannel(ch) != nil {
			r.ExecutionError(`-222,"Data out of range"`)
		}
		return Reply{}, true

	case cmd.Header == "EER" && cmd.Query:
		return reply(strconv.Itoa(r.TakeExecutionErrors())), true

	case cmd.Header == "QER" && cmd.Query:
		return reply(strconv.Itoa(r.TakeQueryErrors())), true

	case cmd.Header == "CNTRVAL" && cmd.Query:
		return reply("1.000000e+00"), true

	case cmd.Header == "ARBDEF" && !cmd.Query:
		fields := splitArgs(cmd.Args)
		if len(fields) != 3 || !isArbSlot(strings.ToUpper(fields[0])) {
			r.ExecutionError(`-109,"Missing parameter"`)
			return Reply{}, true
		}
		r.SetBlock(strings.ToUpper(fields[0])+"DEF", []byte(fields[1]+","+strings.ToUpper(fields[2])))
		return Reply{}, true

	case strings.HasSuffix(cmd.Header, "DEF") && isArbSlot(strings.TrimSuffix(cmd.Header, "DEF")) && cmd.Query:
		slot := strings.TrimSuffix(cmd.Header, "DEF")
		def, ok := r.Block(cmd.Header)
		if !ok {
			return reply(""), true
		}
		samples := 0
		if b, ok := r.Block(slot); ok {
			if data, err := scpi.ParseBlock(b); err == nil {
				samples = len(data)
			}
		}
		return reply(fmt.Sprintf("%s,%d", def, samples)), true

	case isArbSlot(cmd.Header):
		if cmd.Query {
			b, ok := r.Block(cmd.Header)
			if !ok {
				b = []byte(scpi.ArbData{}.Block())
			}
			return Reply{Data: b, OK: true}, true
		}
		data, err := scpi.ParseBlock([]byte(cmd.Args))
		if err != nil {
			r.ExecutionError(`-161,"Invalid block data"`)
			return Reply{}, true
		}
		r.SetBlock(cmd.Header, []byte(data.Block()))
		return Reply{}, true

	case cmd.Header == "ARBRESIZE" && !cmd.Query:
		fields := splitArgs(cmd.Args)
		if len(fields) != 2 || !isArbSlot(strings.ToUpper(fields[0])) {
			r.ExecutionError(`-109,"Missing parameter"`)
			return Reply{}, true
		}
		size, err := strconv.Atoi(fields[1])
		if err != nil || size < 0 || 2*size > maxBlockSize {
			r.ExecutionError(`-222,"Data out of range"`)
			return Reply{}, true
		}
		slot := strings.ToUpper(fields[0])
		var data scpi.ArbData
		if b, ok := r.Block(slot); ok {
			data, _ = scpi.ParseBlock(b)
		}
		resized := make(scpi.ArbData, size)
		copy(resized, data)
		r.SetBlock(slot, []byte(resized.Block()))
		return Reply{}, true
	}
	return Reply{}, false
}

func splitArgs(args string) []string {
	fields := strings.Split(args, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

// PMXA simulates a Kikusui PMX18-5A.
func PMXA() *Profile {
	return &Profile{
		Name:     config.FamilyPMXA,
		Identity: "KIKUSUI,PMX18-5A,SIM00001,IFC01.00.0011 IOC01.00.0007",
		Channels: 1,
		Defaults: map[string]string{
			"VOLT":      "0.000",
			"CURR":      "5.000",
			"OUTP":      "0",
			"VOLT:PROT": "19.800",
			"CURR:PROT": "5.500",
			"TRIPPED":   "0",
		},
		Handle: handlePMXA,
	}
}

func outputOn(r *Registers) bool {
	v, _ := r.Get("OUTP")
	return v == "1"
}

// checkTrip switches the output off when a set-point exceeds its protection.
func checkTrip(r *Registers) {
	if !outputOn(r) {
		return
	}
	if r.Float("VOLT") > r.Float("VOLT:PROT") || r.Float("CURR") > r.Float("CURR:PROT") {
		r.Set("OUTP", "0")
		r.Set("TRIPPED", "1")
		r.ExecutionError(`-200,"Execution error; protection tripped"`)
	}
}

func handlePMXA(r *Registers, cmd Command) (Reply, bool) {
	switch cmd.Header {
	case "OUTP", "OUTPUT":
		if cmd.Query {
			v, _ := r.Get("OUTP")
			return reply(v), true
		}
		switch strings.ToUpper(strings.TrimSpace(cmd.Args)) {
		case "ON", "1":
			if v, _ := r.Get("TRIPPED"); v == "1" {
				r.ExecutionError(`-200,"Execution error; protection tripped"`)
				return Reply{}, true
			}
			r.Set("OUTP", "1")
			checkTrip(r)
		case "OFF", "0":
			r.Set("OUTP", "0")
		default:
			r.ExecutionError(`-224,"Illegal parameter value"`)
		}
		return Reply{}, true

	case "OUTP:PROT:CLE", "OUTP:PROT:CLEAR":
		r.Set("TRIPPED", "0")
		return Reply{}, true

	case "MEAS:VOLT", "MEAS:CURR":
		if !cmd.Query {
			return Reply{}, false
		}
		if !outputOn(r) {
			return reply("0.000"), true
		}
		v, _ := r.Get(strings.TrimPrefix(cmd.Header, "MEAS:"))
		return reply(v), true

	case "VOLT", "CURR", "VOLT:PROT", "CURR:PROT":
		if cmd.Query {
			return Reply{}, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(cmd.Args), 64)
		if err != nil || v < 0 {
			r.ExecutionError(`-222,"Data out of range"`)
			return Reply{}, true
		}
		r.Set(cmd.Header, strconv.FormatFloat(v, 'f', 3, 64))
		checkTrip(r)
		return Reply{}, true

	case "SYST:ERR", "SYST:ERR:NEXT":
		if !cmd.Query {
			return Reply{}, false
		}
		if e := r.PopError(); e != "" {
			return reply(e), true
		}
		return reply(`0,"No error"`), true
	}
	return Reply{}, false
}
