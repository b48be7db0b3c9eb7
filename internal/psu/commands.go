package psu

import "github.com/SaraRegibo/cgse/internal/scpi"

const (
	opSetVoltage      = "set_voltage"
	opGetVoltage      = "get_voltage"
	opSetCurrent      = "set_current"
	opGetCurrent      = "get_current"
	opSetOutput       = "set_output"
	opGetOutput       = "get_output"
	opMeasureVoltage  = "measure_voltage"
	opMeasureCurrent  = "measure_current"
	opSetOVP          = "set_ovp"
	opGetOVP          = "get_ovp"
	opSetOCP          = "set_ocp"
	opGetOCP          = "get_ocp"
	opClearProtection = "clear_protection"
	opReset           = "reset"
	opClearStatus     = "clear_status"
	opGetID           = "get_id"
	opGetError        = "get_error"
)

// Commands is the PMX-A command table.
var Commands = scpi.NewTable(
	scpi.Command{Name: opSetVoltage, Type: scpi.Write, Template: "VOLT ${value}"},
	scpi.Command{Name: opGetVoltage, Type: scpi.Transaction, Template: "VOLT?", Parse: scpi.ParseFloats},
	scpi.Command{Name: opSetCurrent, Type: scpi.Write, Template: "CURR ${value}"},
	scpi.Command{Name: opGetCurrent, Type: scpi.Transaction, Template: "CURR?", Parse: scpi.ParseFloats},
	scpi.Command{Name: opSetOutput, Type: scpi.Write, Template: "OUTP ${status}"},
	scpi.Command{Name: opGetOutput, Type: scpi.Transaction, Template: "OUTP?", Parse: scpi.ParseBool},
	scpi.Command{Name: opMeasureVoltage, Type: scpi.Transaction, Template: "MEAS:VOLT?", Parse: scpi.ParseFloats},
	scpi.Command{Name: opMeasureCurrent, Type: scpi.Transaction, Template: "MEAS:CURR?", Parse: scpi.ParseFloats},
	scpi.Command{Name: opSetOVP, Type: scpi.Write, Template: "VOLT:PROT ${value}"},
	scpi.Command{Name: opGetOVP, Type: scpi.Transaction, Template: "VOLT:PROT?", Parse: scpi.ParseFloats},
	scpi.Command{Name: opSetOCP, Type: scpi.Write, Template: "CURR:PROT ${value}"},
	scpi.Command{Name: opGetOCP, Type: scpi.Transaction, Template: "CURR:PROT?", Parse: scpi.ParseFloats},
	scpi.Command{Name: opClearProtection, Type: scpi.Write, Template: "OUTP:PROT:CLE"},
	scpi.Command{Name: opReset, Type: scpi.Write, Template: "*RST"},
	scpi.Command{Name: opClearStatus, Type: scpi.Write, Template: "*CLS"},
	scpi.Command{Name: opGetID, Type: scpi.Transaction, Template: "*IDN?", Parse: parseIdentity},
	scpi.Command{Name: opGetError, Type: scpi.Transaction, Template: "SYST:ERR?", Parse: parseError},
)
