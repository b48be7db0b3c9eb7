package awg

import (
	"context"
	"fmt"
	"sync"

	"github.com/SaraRegibo/cgse/internal/device"
	"github.com/SaraRegibo/cgse/internal/scpi"
)

type channelState struct {
	waveform       Waveform
	frequency      float64
	period         float64
	amplitudeRange AmplitudeRange
	amplitude      float64
	highLevel      float64
	lowLevel       float64
	offset         float64
	phase          float64
	squareSymmetry float64
	rampSymmetry   float64
	output         Output
	load           string
	syncOutput     Switch
	syncType       SyncType
	arbWaveform    string
	counterStatus  Switch
	counterSource  CounterSource
	counterType    CounterType
}

func defaultChannel() channelState {
	return channelState{
		waveform:       WaveSine,
		frequency:      1e3,
		period:         1e-3,
		amplitudeRange: RangeAuto,
		amplitude:      1,
		highLevel:      0.5,
		lowLevel:       -0.5,
		squareSymmetry: 50,
		rampSymmetry:   50,
		output:         OutputOff,
		load:           "50",
		syncOutput:     Off,
		syncType:       SyncAuto,
		counterStatus:  Off,
		counterSource:  CounterAC,
		counterType:    CounterFrequency,
	}
}

type arbSlot struct {
	name          string
	interpolation Switch
	data          scpi.ArbData
	defined       bool
}

// Simulator keeps the instrument state in memory. It starts connected and
// without a selected channel; until one is selected, channel 1 is used.
type Simulator struct {
	device.Base

	mu        sync.Mutex
	connected bool
	channel   int
	channels  [Channels]channelState
	arbs      [ArbSlots]arbSlot
	setups    map[int][Channels]channelState

	arbDCOffset    float64
	arbFilter      FilterShape
	channel2Config Channel2Config
	beepMode       BeepMode
}

var _ Interface = (*Simulator)(nil)

// NewSimulator returns a connected simulator.
func NewSimulator(deviceID string) *Simulator {
	s := &Simulator{
		Base:      device.Base{DeviceID: deviceID},
		connected: true,
		setups:    make(map[int][Channels]channelState),
	}
	s.resetLocked()
	return s
}

func (s *Simulator) resetLocked() {
	s.channel = -1
	for i := range s.channels {
		s.channels[i] = defaultChannel()
	}
	s.arbDCOffset = 0
	s.arbFilter = FilterNormal
	s.channel2Config = Channel2MainOut
	s.beepMode = BeepOn
}

// current returns the state of the selected channel; the caller holds mu.
func (s *Simulator) current() *channelState {
	ch := s.channel
	if ch < 1 {
		ch = 1
	}
	return &s.channels[ch-1]
}

func (s *Simulator) update(fn func(c *channelState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.current())
	return nil
}

func read[T any](s *Simulator, fn func(c *channelState) T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.current()), nil
}

func (s *Simulator) Connect(context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Disconnect() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Reconnect(ctx context.Context) error {
	return s.Connect(ctx)
}

func (s *Simulator) IsConnected(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulator) IsSimulator() bool {
	return true
}

func (s *Simulator) SetChannel(_ context.Context, channel int) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()
	return nil
}

func (s *Simulator) GetChannel(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel < 1 {
		return 1, nil
	}
	return s.channel, nil
}

func (s *Simulator) SetWaveform(_ context.Context, w Waveform) error {
	return s.update(func(c *channelState) { c.waveform = w })
}

func (s *Simulator) GetWaveform(context.Context) (Waveform, error) {
	return read(s, func(c *channelState) Waveform { return c.waveform })
}

func (s *Simulator) SetFrequency(_ context.Context, hz float64) error {
	return s.update(func(c *channelState) {
		c.frequency = hz
		if hz > 0 {
			c.period = 1 / hz
		}
	})
}

func (s *Simulator) GetFrequency(context.Context) (float64, error) {
	return read(s, func(c *channelState) float64 { return c.frequency })
}

func (s *Simulator) SetPeriod(_ context.Context, period float64) error {
	return s.update(func(c *channelState) {
		c.period = period
		if period > 0 {
			c.frequency = 1 / period
		}
	})
}

func (s *Simulator) GetPeriod(context.Context) (float64, error) {
	return read(s, func(c *channelState) float64 { return c.period })
}

func (s *Simulator) SetAmplitudeRange(_ context.Context, r AmplitudeRange) error {
	return s.update(func(c *channelState) { c.amplitudeRange = r })
}

func (s *Simulator) GetAmplitudeRange(context.Context) (AmplitudeRange, error) {
	return read(s, func(c *channelState) AmplitudeRange { return c.amplitudeRange })
}

func (s *Simulator) SetAmplitude(_ context.Context, vpp float64) error {
	return s.update(func(c *channelState) { c.amplitude = vpp })
}

func (s *Simulator) GetAmplitude(context.Context) (float64, error) {
	return read(s, func(c *channelState) float64 { return c.amplitude })
}

func (s *Simulator) SetHighLevel(_ context.Context, v float64) error {
	return s.update(func(c *channelState) { c.highLevel = v })
}

func (s *Simulator) GetHighLevel(context.Context) (float64, error) {
	return read(s, func(c *channelState) float64 { return c.highLevel })
}

func (s *Simulator) SetLowLevel(_ context.Context, v float64) error {
	return s.update(func(c *channelState) { c.lowLevel = v })
}

func (s *Simulator) GetLowLevel(context.Context) (float64, error) {
	return read(s, func(c *channelState) float64 { return c.lowLevel })
}

func (s *Simulator) SetDCOffset(_ context.Context, v float64) error {
	return s.update(func(c *channelState) { c.offset = v })
}

func (s *Simulator) GetDCOffset(context.Context) (float64, error) {
	return read(s, func(c *channelState) float64 { return c.offset })
}

func (s *Simulator) SetPhase(_ context.Context, degrees float64) error {
	return s.update(func(c *channelState) { c.phase = degrees })
}

func (s *Simulator) GetPhase(context.Context) (float64, error) {
	return read(s, func(c *channelState) float64 { return c.phase })
}

func (s *Simulator) SetSquareSymmetry(_ context.Context, percent float64) error {
	return s.update(func(c *channelState) { c.squareSymmetry = percent })
}

func (s *Simulator) GetSquareSymmetry(context.Context) (float64, error) {
	return read(s, func(c *channelState) float64 { return c.squareSymmetry })
}

func (s *Simulator) SetRampSymmetry(_ context.Context, percent float64) error {
	return s.update(func(c *channelState) { c.rampSymmetry = percent })
}

func (s *Simulator) GetRampSymmetry(context.Context) (float64, error) {
	return read(s, func(c *channelState) float64 { return c.rampSymmetry })
}

func (s *Simulator) SetOutput(_ context.Context, o Output) error {
	return s.update(func(c *channelState) { c.output = o })
}

func (s *Simulator) GetOutput(context.Context) (Output, error) {
	return read(s, func(c *channelState) Output { return c.output })
}

func (s *Simulator) SetOutputLoad(_ context.Context, load string) error {
	return s.update(func(c *channelState) { c.load = load })
}

func (s *Simulator) GetOutputLoad(context.Context) (string, error) {
	return read(s, func(c *channelState) string { return c.load })
}

func (s *Simulator) SetSyncOutput(_ context.Context, sw Switch) error {
	return s.update(func(c *channelState) { c.syncOutput = sw })
}

func (s *Simulator) GetSyncOutput(context.Context) (Switch, error) {
	return read(s, func(c *channelState) Switch { return c.syncOutput })
}

func (s *Simulator) SetSyncType(_ context.Context, t SyncType) error {
	return s.update(func(c *channelState) { c.syncType = t })
}

func (s *Simulator) GetSyncType(context.Context) (SyncType, error) {
	return read(s, func(c *channelState) SyncType { return c.syncType })
}

func (s *Simulator) SetChannel2Config(_ context.Context, cfg Channel2Config) error {
	s.mu.Lock()
	s.channel2Config = cfg
	s.mu.Unlock()
	return nil
}

func (s *Simulator) GetChannel2Config(context.Context) (Channel2Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel2Config, nil
}

func (s *Simulator) Align(context.Context) error {
	return nil
}

func (s *Simulator) SelectArbWaveform(_ context.Context, name string) error {
	return s.update(func(c *channelState) { c.arbWaveform = name })
}

func (s *Simulator) GetArbWaveform(context.Context) (string, error) {
	return read(s, func(c *channelState) string { return c.arbWaveform })
}

func (s *Simulator) DefineArb(_ context.Context, slot int, name string, interpolation Switch) error {
	if err := checkArbSlot(slot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	arb := &s.arbs[slot-1]
	arb.name = name
	arb.interpolation = interpolation
	arb.defined = true
	return nil
}

func (s *Simulator) LoadArbData(_ context.Context, slot int, data scpi.ArbData) error {
	if err := checkArbSlot(slot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbs[slot-1].data = append(scpi.ArbData(nil), data...)
	return nil
}

func (s *Simulator) GetArbData(_ context.Context, slot int) (scpi.ArbData, error) {
	if err := checkArbSlot(slot); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(scpi.ArbData(nil), s.arbs[slot-1].data...), nil
}

func (s *Simulator) GetArbDefinition(_ context.Context, slot int) (*scpi.ArbDefinition, error) {
	if err := checkArbSlot(slot); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	arb := s.arbs[slot-1]
	if !arb.defined {
		return nil, nil
	}
	return &scpi.ArbDefinition{
		Name:          arb.name,
		Interpolation: string(arb.interpolation),
		Length:        len(arb.data),
	}, nil
}

func (s *Simulator) ResizeArb(_ context.Context, slot int, size int) error {
	if err := checkArbSlot(slot); err != nil {
		return err
	}
	if size < 0 {
		return invalidParam("ARB size %d is negative", size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resized := make(scpi.ArbData, size)
	copy(resized, s.arbs[slot-1].data)
	s.arbs[slot-1].data = resized
	return nil
}

func (s *Simulator) SetArbDCOffset(_ context.Context, v float64) error {
	s.mu.Lock()
	s.arbDCOffset = v
	s.mu.Unlock()
	return nil
}

func (s *Simulator) GetArbDCOffset(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arbDCOffset, nil
}

func (s *Simulator) SetArbFilter(_ context.Context, f FilterShape) error {
	s.mu.Lock()
	s.arbFilter = f
	s.mu.Unlock()
	return nil
}

func (s *Simulator) GetArbFilter(context.Context) (FilterShape, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arbFilter, nil
}

func (s *Simulator) SetCounterStatus(_ context.Context, sw Switch) error {
	return s.update(func(c *channelState) { c.counterStatus = sw })
}

func (s *Simulator) GetCounterStatus(context.Context) (Switch, error) {
	return read(s, func(c *channelState) Switch { return c.counterStatus })
}

func (s *Simulator) SetCounterSource(_ context.Context, src CounterSource) error {
	return s.update(func(c *channelState) { c.counterSource = src })
}

func (s *Simulator) GetCounterSource(context.Context) (CounterSource, error) {
	return read(s, func(c *channelState) CounterSource { return c.counterSource })
}

func (s *Simulator) SetCounterType(_ context.Context, t CounterType) error {
	return s.update(func(c *channelState) { c.counterType = t })
}

func (s *Simulator) GetCounterType(context.Context) (CounterType, error) {
	return read(s, func(c *channelState) CounterType { return c.counterType })
}

func (s *Simulator) GetCounterValue(context.Context) (float64, error) {
	return 1, nil
}

func (s *Simulator) ClearStatus(context.Context) error {
	return nil
}

func (s *Simulator) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}

func (s *Simulator) GetID(context.Context) (scpi.InstrumentID, error) {
	return scpi.InstrumentID{
		Manufacturer: "THURLBY THANDAR",
		Model:        "TGF4162",
		Serial:       "527758",
		Firmware:     1.00,
		Interface:    2.10,
		USBFlash:     1.20,
	}, nil
}

func (s *Simulator) GetStatusByte(context.Context) (int, error) {
	return 0, nil
}

func (s *Simulator) GetEventStatus(context.Context) (int, error) {
	return 0, nil
}

func (s *Simulator) GetExecutionErrors(context.Context) (int, error) {
	return 0, nil
}

func (s *Simulator) GetQueryErrors(context.Context) (int, error) {
	return 0, nil
}

func (s *Simulator) OperationComplete(context.Context) (int, error) {
	return 1, nil
}

func (s *Simulator) Trigger(context.Context) error {
	return nil
}

func (s *Simulator) Wait(context.Context) error {
	return nil
}

func (s *Simulator) SaveSetup(_ context.Context, slot int) error {
	if err := checkSetupSlot(slot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setups[slot] = s.channels
	return nil
}

func (s *Simulator) RecallSetup(_ context.Context, slot int) error {
	if err := checkSetupSlot(slot); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	setup, ok := s.setups[slot]
	if !ok {
		return device.DeviceError(s.ID(), fmt.Sprintf("setup store %d is empty", slot), nil)
	}
	s.channels = setup
	return nil
}

func (s *Simulator) SetBeepMode(_ context.Context, m BeepMode) error {
	s.mu.Lock()
	s.beepMode = m
	s.mu.Unlock()
	return nil
}

func (s *Simulator) GetBeepMode(context.Context) (BeepMode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beepMode, nil
}

func (s *Simulator) Beep(context.Context) error {
	return nil
}

func (s *Simulator) Local(context.Context) error {
	return nil
}

func (s *Simulator) GetAddress(context.Context) (int, error) {
	return 5, nil
}

func (s *Simulator) GetIPAddress(context.Context) (string, error) {
	return "127.0.0.1", nil
}

func (s *Simulator) GetNetmask(context.Context) (string, error) {
	return "255.255.255.0", nil
}
