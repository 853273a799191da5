package sensor

const (
	// AnalogMax is the largest value a 12-bit ADC reading can take.
	AnalogMax = 0x0FFF
)

// Environment holds the processed outputs of the environmental sensor.
type Environment struct {
	Temperature int16  // °C × 100
	Humidity    uint16 // % × 100
	Pressure    uint32 // Pa
	IAQ         uint16 // 0-500
	Accuracy    uint8  // 0-3
	StaticIAQ   uint16
	CO2         uint16 // CO2 equivalent, ppm
	BreathVOC   uint16 // breath VOC equivalent, ppm × 100
	GasPercent  uint8  // 0-100
	StabStatus  uint8
	RunInStatus uint8
}

// Gas is the analog/digital output pair of the gas sensor.
type Gas struct {
	Analog  uint16 // 12-bit ADC reading
	Digital uint8  // threshold output
}

// Sample is one atomic snapshot taken per sampling cycle.
// It is always replaced as a whole, never updated field by field.
type Sample struct {
	Env  Environment
	Gas  Gas
	Wind uint16 // anemometer 12-bit ADC reading
}

// Celsius returns the temperature in degrees Celsius.
func (e Environment) Celsius() float32 {
	return float32(e.Temperature) / 100
}

// RelativeHumidity returns the humidity in percent.
func (e Environment) RelativeHumidity() float32 {
	return float32(e.Humidity) / 100
}

// BreathVOCPPM returns the breath VOC equivalent in ppm.
func (e Environment) BreathVOCPPM() float32 {
	return float32(e.BreathVOC) / 100
}

// Stabilized reports whether the sensor finished its stabilization phase.
func (e Environment) Stabilized() bool { return e.StabStatus != 0 }

// RunInComplete reports whether the sensor finished its run-in phase.
func (e Environment) RunInComplete() bool { return e.RunInStatus != 0 }
