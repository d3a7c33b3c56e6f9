package normalizer

import (
	"strconv"
	"strings"

	"github.com/telhawk-systems/telhawk-metrics/ingest/internal/models"
)

// Tag keys written by the statsd parser.
const (
	TagStatsdType  = "type"
	TagSampleRate  = "sampleRate"
	statsdSetToken = "s"
)

// StatsdParser parses statsd and DogStatsD lines:
//
//	bucket:value|type[|@sampleRate][|#tag:value,...]
//
// Points are stamped with the ingestion time.
type StatsdParser struct{}

func (StatsdParser) Supports(format models.Format) bool {
	return format == models.FormatStatsd
}

func (StatsdParser) Parse(payload []byte, ingestedAt int64) ([]models.NormalizedPoint, int) {
	var points []models.NormalizedPoint
	dropped := eachLine(payload, func(line []byte) bool {
		p, ok := parseStatsdLine(string(line), ingestedAt)
		if ok {
			points = append(points, p)
		}
		return ok
	})
	return points, dropped
}

func parseStatsdLine(line string, ingestedAt int64) (models.NormalizedPoint, bool) {
	bucket, rest, ok := strings.Cut(line, ":")
	if !ok || bucket == "" {
		return models.NormalizedPoint{}, false
	}

	sections := strings.Split(rest, "|")
	if len(sections) < 2 || sections[0] == "" || sections[1] == "" {
		return models.NormalizedPoint{}, false
	}

	metricType := sections[1]
	tags := make(map[string]string)

	var (
		value      any
		sampleRate string
	)
	if f, err := strconv.ParseFloat(sections[0], 64); err == nil && finite(f) {
		value = f
	} else if metricType == statsdSetToken {
		value = sections[0]
	} else {
		return models.NormalizedPoint{}, false
	}

	for _, section := range sections[2:] {
		switch {
		case strings.HasPrefix(section, "@"):
			rate, err := strconv.ParseFloat(section[1:], 64)
			if err != nil || rate <= 0 || rate > 1 {
				return models.NormalizedPoint{}, false
			}
			sampleRate = section[1:]
		case strings.HasPrefix(section, "#"):
			for k, v := range parseTagList(strings.Split(section[1:], ",")) {
				tags[k] = v
			}
		case section == "":
		default:
			// Unknown extensions such as DogStatsD container ids are ignored.
		}
	}

	// Line syntax wins over same-named user tags.
	tags[TagStatsdType] = metricType
	if sampleRate != "" {
		tags[TagSampleRate] = sampleRate
	}

	p := models.NormalizedPoint{
		Measurement:     bucket,
		Tags:            tags,
		Fields:          map[string]any{"value": value},
		TimestampMillis: ingestedAt,
	}
	finalize(&p, ingestedAt)
	return p, true
}

// parseTagList turns ["k:v", "flag"] into {k: v, flag: ""}.
func parseTagList(items []string) map[string]string {
	tags := make(map[string]string, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, _ := strings.Cut(item, ":")
		if k == "" {
			continue
		}
		tags[k] = v
	}
	return tags
}
