package tts

// Cross-engine speaker mapping. Voice characters do not line up one-to-one
// between VOICEVOX and AivisSpeech, so the table maps each speaker to its
// nearest equivalent; anything unmapped falls back to the target engine's
// default speaker.

var voicevoxToAivis = map[int]int{
	3:  1512153250, // Normal -> zunda_normal
	1:  1512153249, // Sweet -> zunda_amai
	7:  1512153252, // Tsundere -> zunda_tsun
	5:  1512153251, // Seductive -> zunda_sexy
	22: 1512153253, // Whisper -> zunda_whisper
	38: 1512153254, // Murmur -> zunda_hisohiso
	75: 1512153250, // Flirty -> zunda_normal (no direct match)
	76: 1512153250, // Tearful -> zunda_normal (no direct match)
}

var aivisToVoicevox = map[int]int{
	1512153250: 3,  // zunda_normal -> Normal
	1512153249: 1,  // zunda_amai -> Sweet
	1512153252: 7,  // zunda_tsun -> Tsundere
	1512153251: 5,  // zunda_sexy -> Seductive
	1512153253: 22, // zunda_whisper -> Whisper
	1512153254: 38, // zunda_hisohiso -> Murmur
	1512153248: 3,  // zunda_reading -> Normal (no direct match)
	// Other AivisSpeech speakers map to Zundamon Normal as fallback
	888753760:  3,
	888753761:  3,
	888753762:  3,
	888753763:  3,
	888753764:  3,
	888753765:  3,
	1431611904: 3,
	604166016:  3,
}

// DefaultSpeakers holds the built-in default speaker per engine, used when no
// explicit engine configuration overrides it.
var DefaultSpeakers = map[string]int{
	"voicevox": 3,          // Zundamon (Normal)
	"aivis":    1512153250, // Unofficial Zundamon (Normal)
}

// DetectEngine infers the engine a speaker ID belongs to. AivisSpeech IDs are
// large model-derived values; VOICEVOX IDs are small sequential ones.
func DetectEngine(speakerID int) string {
	if speakerID >= 100000 {
		return "aivis"
	}
	return "voicevox"
}

// CompatibleSpeaker translates a speaker ID from one engine to the nearest
// equivalent on another. If the engines match, the ID passes through. If no
// mapping entry exists, the target engine's default from defaults (falling
// back to the built-in defaults) is returned.
func CompatibleSpeaker(speakerID int, fromEngine, toEngine string, defaults map[string]int) int {
	if fromEngine == toEngine {
		return speakerID
	}

	var mapping map[int]int
	switch {
	case fromEngine == "voicevox" && toEngine == "aivis":
		mapping = voicevoxToAivis
	case fromEngine == "aivis" && toEngine == "voicevox":
		mapping = aivisToVoicevox
	}

	if mapped, ok := mapping[speakerID]; ok {
		return mapped
	}

	if def, ok := defaults[toEngine]; ok {
		return def
	}
	return DefaultSpeakers[toEngine]
}

// SpeakerInfo describes one selectable voice.
type SpeakerInfo struct {
	Name      string
	Character string
}

var speakerDB = map[string]map[int]SpeakerInfo{
	"voicevox": {
		1:  {Name: "Zundamon (Sweet)", Character: "Zundamon"},
		3:  {Name: "Zundamon (Normal)", Character: "Zundamon"},
		5:  {Name: "Zundamon (Seductive)", Character: "Zundamon"},
		7:  {Name: "Zundamon (Tsundere)", Character: "Zundamon"},
		22: {Name: "Zundamon (Whisper)", Character: "Zundamon"},
		38: {Name: "Zundamon (Murmur)", Character: "Zundamon"},
		75: {Name: "Zundamon (Flirty)", Character: "Zundamon"},
		76: {Name: "Zundamon (Tearful)", Character: "Zundamon"},
	},
	"aivis": {
		1512153248: {Name: "Unofficial Zundamon (Reading)", Character: "Zundamon"},
		1512153249: {Name: "Unofficial Zundamon (Sweet)", Character: "Zundamon"},
		1512153250: {Name: "Unofficial Zundamon (Normal)", Character: "Zundamon"},
		1512153251: {Name: "Unofficial Zundamon (Seductive)", Character: "Zundamon"},
		1512153252: {Name: "Unofficial Zundamon (Tsundere)", Character: "Zundamon"},
		1512153253: {Name: "Unofficial Zundamon (Whisper)", Character: "Zundamon"},
		1512153254: {Name: "Unofficial Zundamon (Murmur)", Character: "Zundamon"},
		888753760:  {Name: "Anneli (Normal)", Character: "Anneli"},
		888753761:  {Name: "Anneli (Standard)", Character: "Anneli"},
		888753762:  {Name: "Anneli (High Tension)", Character: "Anneli"},
		888753763:  {Name: "Anneli (Calm)", Character: "Anneli"},
		888753764:  {Name: "Anneli (Happy)", Character: "Anneli"},
		888753765:  {Name: "Anneli (Angry/Sad)", Character: "Anneli"},
		1431611904: {Name: "Mai", Character: "Mai"},
		604166016:  {Name: "Chuunibyou", Character: "Chuunibyou"},
	},
}

// Speaker returns display information for a speaker on an engine. Unknown
// speakers get a placeholder name so status output stays readable.
func Speaker(speakerID int, engine string) SpeakerInfo {
	if info, ok := speakerDB[engine][speakerID]; ok {
		return info
	}
	return SpeakerInfo{Name: "Unknown", Character: "Unknown"}
}

// Speakers returns the known speakers for an engine.
func Speakers(engine string) map[int]SpeakerInfo {
	out := make(map[int]SpeakerInfo, len(speakerDB[engine]))
	for id, info := range speakerDB[engine] {
		out[id] = info
	}
	return out
}
