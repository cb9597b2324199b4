package meter

import (
	"fmt"
	"strconv"
)

// MQTT topics for the extracted fields.
const (
	TopicWaterNoUse           = "Home/WaterMeter/NoUse"
	TopicWaterBackFlow        = "Home/WaterMeter/BackFlow"
	TopicWaterTotalValue      = "Home/WaterMeter/TotalValue"
	TopicWaterLeakDetected    = "Home/WaterMeter/LeakDetected"
	TopicWaterLeakNowDetected = "Home/WaterMeter/LeakNowDetected"
	TopicGasTotalValue        = "Home/GasMeterTotalValue"
)

// Field positions within a decoded line.
const (
	noUseIndex           = 5
	backFlowIndex        = 6
	consumptionIndex     = 7
	leakDetectedIndex    = 9
	leakNowDetectedIndex = 10
)

// Reading is one topic/payload pair destined for the broker.
type Reading struct {
	Topic string
	Value string
}

// ExtractWater pulls the five water meter fields out of a classified line.
// The meter counts tenths, so TotalValue is the consumption field divided
// by 10. The remaining fields pass through unconverted. Extraction fails as
// a whole if the consumption field is not numeric or the line is short; no
// partial result is returned.
func ExtractWater(fields []string) ([]Reading, error) {
	if len(fields) < waterFieldCount {
		return nil, fmt.Errorf("water record needs %d fields, got %d", waterFieldCount, len(fields))
	}
	consumption, err := strconv.ParseFloat(fields[consumptionIndex], 64)
	if err != nil {
		return nil, fmt.Errorf("water consumption field %q is not numeric: %w", fields[consumptionIndex], err)
	}
	total := strconv.FormatFloat(consumption/10, 'f', -1, 64)
	return []Reading{
		{Topic: TopicWaterNoUse, Value: fields[noUseIndex]},
		{Topic: TopicWaterBackFlow, Value: fields[backFlowIndex]},
		{Topic: TopicWaterTotalValue, Value: total},
		{Topic: TopicWaterLeakDetected, Value: fields[leakDetectedIndex]},
		{Topic: TopicWaterLeakNowDetected, Value: fields[leakNowDetectedIndex]},
	}, nil
}

// ExtractGas pulls the single gas meter reading out of a classified line.
// The decoder already reports gas in the target unit, so the consumption
// field passes through verbatim.
func ExtractGas(fields []string) ([]Reading, error) {
	if len(fields) < gasFieldCount {
		return nil, fmt.Errorf("gas record needs %d fields, got %d", gasFieldCount, len(fields))
	}
	return []Reading{
		{Topic: TopicGasTotalValue, Value: fields[consumptionIndex]},
	}, nil
}
