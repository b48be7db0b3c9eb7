package awg

import (
	"fmt"

	"github.com/SaraRegibo/cgse/internal/scpi"
)

// Operation names. They double as JSON-RPC method names.
const (
	opSetChannel         = "set_channel"
	opGetChannel         = "get_channel"
	opSetWaveform        = "set_waveform_type"
	opGetWaveform        = "get_waveform_type"
	opSetFrequency       = "set_frequency"
	opGetFrequency       = "get_frequency"
	opSetPeriod          = "set_period"
	opGetPeriod          = "get_period"
	opSetAmplitudeRange  = "set_amplitude_range"
	opGetAmplitudeRange  = "get_amplitude_range"
	opSetAmplitude       = "set_amplitude"
	opGetAmplitude       = "get_amplitude"
	opSetHighLevel       = "set_amplitude_high_level"
	opGetHighLevel       = "get_amplitude_high_level"
	opSetLowLevel        = "set_amplitude_low_level"
	opGetLowLevel        = "get_amplitude_low_level"
	opSetDCOffset        = "set_dc_offset"
	opGetDCOffset        = "get_dc_offset"
	opSetPhase           = "set_phase"
	opGetPhase           = "get_phase"
	opSetSquareSymmetry  = "set_square_waveform_symmetry"
	opGetSquareSymmetry  = "get_square_waveform_symmetry"
	opSetRampSymmetry    = "set_ramp_waveform_symmetry"
	opGetRampSymmetry    = "get_ramp_waveform_symmetry"
	opSetOutput          = "set_output_status"
	opGetOutput          = "get_output_status"
	opSetOutputLoad      = "set_output_load"
	opGetOutputLoad      = "get_output_load"
	opSetSyncOutput      = "set_sync_output"
	opGetSyncOutput      = "get_sync_output"
	opSetSyncType        = "set_sync_type"
	opGetSyncType        = "get_sync_type"
	opSetChannel2Config  = "set_channel2_config"
	opGetChannel2Config  = "get_channel2_config"
	opAlign              = "align"
	opSelectArbWaveform  = "set_arb_waveform"
	opGetArbWaveform     = "get_arb_waveform"
	opDefineArb          = "define_arb_waveform"
	opLoadArbData        = "load_arb_data"
	opGetArbData         = "get_arb_data"
	opGetArbDefinition   = "get_arb_definition"
	opResizeArb          = "set_arb_size"
	opSetArbDCOffset     = "set_arb_dc_offset"
	opGetArbDCOffset     = "get_arb_dc_offset"
	opSetArbFilter       = "set_arb_filter"
	opGetArbFilter       = "get_arb_filter"
	opSetCounterStatus   = "set_counter_status"
	opGetCounterStatus   = "get_counter_status"
	opSetCounterSource   = "set_counter_source"
	opGetCounterSource   = "get_counter_source"
	opSetCounterType     = "set_counter_type"
	opGetCounterType     = "get_counter_type"
	opGetCounterValue    = "get_counter_value"
	opClearStatus        = "clear_status"
	opReset              = "reset"
	opGetID              = "get_id"
	opGetStatusByte      = "get_status_byte"
	opGetEventStatus     = "get_event_status"
	opGetExecutionErrors = "get_execution_errors"
	opGetQueryErrors     = "get_query_errors"
	opOperationComplete  = "operation_complete"
	opTrigger            = "trigger"
	opWait               = "wait"
	opSaveSetup          = "save_setup"
	opRecallSetup        = "recall_setup"
	opSetBeepMode        = "set_beep_mode"
	opGetBeepMode        = "get_beep_mode"
	opBeep               = "beep"
	opLocal              = "local"
	opGetAddress         = "get_address"
	opGetIPAddress       = "get_ip_address"
	opGetNetmask         = "get_netmask"
)

func write(name, template string) scpi.Command {
	return scpi.Command{Name: name, Type: scpi.Write, Template: template}
}

func query(name, template string, parse scpi.ParseFunc) scpi.Command {
	return scpi.Command{Name: name, Type: scpi.Transaction, Template: template, Parse: parse}
}

// Commands is the TGF4000 command table.
var Commands = scpi.NewTable(
	write(opSetChannel, "CHN ${channel}"),
	query(opGetChannel, "CHN?", scpi.ParseInts),
	write(opSetWaveform, "WAVE ${waveform}"),
	query(opGetWaveform, "WAVE?", scpi.ParseStrings),
	write(opSetFrequency, "FREQ ${value}"),
	query(opGetFrequency, "FREQ?", scpi.ParseFloats),
	write(opSetPeriod, "PER ${value}"),
	query(opGetPeriod, "PER?", scpi.ParseFloats),
	write(opSetAmplitudeRange, "AMPLRNG ${range}"),
	query(opGetAmplitudeRange, "AMPLRNG?", scpi.ParseStrings),
	write(opSetAmplitude, "AMPL ${value}"),
	query(opGetAmplitude, "AMPL?", scpi.ParseFloats),
	write(opSetHighLevel, "HILVL ${value}"),
	query(opGetHighLevel, "HILVL?", scpi.ParseFloats),
	write(opSetLowLevel, "LOLVL ${value}"),
	query(opGetLowLevel, "LOLVL?", scpi.ParseFloats),
	write(opSetDCOffset, "DCOFFS ${value}"),
	query(opGetDCOffset, "DCOFFS?", scpi.ParseFloats),
	write(opSetPhase, "PHASE ${value}"),
	query(opGetPhase, "PHASE?", scpi.ParseFloats),
	write(opSetSquareSymmetry, "SQRSYMM ${value}"),
	query(opGetSquareSymmetry, "SQRSYMM?", scpi.ParseFloats),
	write(opSetRampSymmetry, "RMPSYMM ${value}"),
	query(opGetRampSymmetry, "RMPSYMM?", scpi.ParseFloats),
	write(opSetOutput, "OUTPUT ${status}"),
	query(opGetOutput, "OUTPUT?", scpi.ParseStrings),
	write(opSetOutputLoad, "ZLOAD ${load}"),
	query(opGetOutputLoad, "ZLOAD?", scpi.ParseStrings),
	write(opSetSyncOutput, "SYNCOUT ${status}"),
	query(opGetSyncOutput, "SYNCOUT?", scpi.ParseStrings),
	write(opSetSyncType, "SYNCTYPE ${type}"),
	query(opGetSyncType, "SYNCTYPE?", scpi.ParseStrings),
	write(opSetChannel2Config, "CHN2CONFIG ${config}"),
	query(opGetChannel2Config, "CHN2CONFIG?", scpi.ParseStrings),
	write(opAlign, "ALIGN"),

	write(opSelectArbWaveform, "ARBLOAD ${name}"),
	query(opGetArbWaveform, "ARBLOAD?", scpi.ParseStrings),
	write(opDefineArb, "ARBDEF ${arb}, ${name}, ${interpolation}"),
	write(opLoadArbData, "${arb} ${block}"),
	query(opGetArbData, "${arb}?", scpi.ParseArbData),
	query(opGetArbDefinition, "${arb}DEF?", scpi.ParseArbDef),
	write(opResizeArb, "ARBRESIZE ${arb}, ${size}"),
	write(opSetArbDCOffset, "ARBDCOFFS ${value}"),
	query(opGetArbDCOffset, "ARBDCOFFS?", scpi.ParseFloats),
	write(opSetArbFilter, "ARBFILTER ${filter}"),
	query(opGetArbFilter, "ARBFILTER?", scpi.ParseStrings),

	write(opSetCounterStatus, "CNTRSWT ${status}"),
	query(opGetCounterStatus, "CNTRSWT?", scpi.ParseStrings),
	write(opSetCounterSource, "CNTRCPLNG ${source}"),
	query(opGetCounterSource, "CNTRCPLNG?", scpi.ParseStrings),
	write(opSetCounterType, "CNTRTYPE ${type}"),
	query(opGetCounterType, "CNTRTYPE?", scpi.ParseStrings),
	query(opGetCounterValue, "CNTRVAL?", scpi.ParseFloats),

	write(opClearStatus, "*CLS"),
	write(opReset, "*RST"),
	query(opGetID, "*IDN?", scpi.ParseInstrumentID),
	query(opGetStatusByte, "*STB?", scpi.ParseInts),
	query(opGetEventStatus, "*ESR?", scpi.ParseInts),
	query(opGetExecutionErrors, "EER?", scpi.ParseInts),
	query(opGetQueryErrors, "QER?", scpi.ParseInts),
	query(opOperationComplete, "*OPC?", scpi.ParseInts),
	write(opTrigger, "*TRG"),
	write(opWait, "*WAI"),
	write(opSaveSetup, "*SAV ${slot}"),
	write(opRecallSetup, "*RCL ${slot}"),

	write(opSetBeepMode, "BEEPMODE ${mode}"),
	query(opGetBeepMode, "BEEPMODE?", scpi.ParseStrings),
	write(opBeep, "BEEP"),
	write(opLocal, "LOCAL"),
	query(opGetAddress, "ADDRESS?", scpi.ParseInts),
	query(opGetIPAddress, "IPADDR?", scpi.ParseStrings),
	query(opGetNetmask, "NETMASK?", scpi.ParseStrings),
)

// arbName renders a slot number as ARB1..ARB4.
func arbName(slot int) string {
	return fmt.Sprintf("ARB%d", slot)
}
