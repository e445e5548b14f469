package audio

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ToneSampleRate is the rate tones are rendered at.
const ToneSampleRate = 48000

// Morse timing in milliseconds and the tone frequency used for morse styles.
const (
	morseDit  = 60
	morseDah  = 180
	morseGap  = 60
	morseFreq = 1000
)

// Tone is one step of a tone sequence. A zero frequency is silence.
type Tone struct {
	Frequency float64
	Duration  time.Duration
}

// ToneSequence is an ordered list of tones, such as a roger beep played at
// the end of a transmission.
type ToneSequence struct {
	Name  string
	Tones []Tone
}

func tones(freqs []float64, ms []int) []Tone {
	out := make([]Tone, len(freqs))
	for i := range freqs {
		out[i] = Tone{Frequency: freqs[i], Duration: time.Duration(ms[i]) * time.Millisecond}
	}
	return out
}

// Morse builds a sequence from a pattern of '.' and '-', with a gap between
// elements and none after the last.
func Morse(pattern string) (ToneSequence, error) {
	var ts []Tone
	for _, c := range pattern {
		var ms int
		switch c {
		case '.':
			ms = morseDit
		case '-':
			ms = morseDah
		default:
			return ToneSequence{}, fmt.Errorf("invalid morse element %q", c)
		}
		if len(ts) > 0 {
			ts = append(ts, Tone{Duration: morseGap * time.Millisecond})
		}
		ts = append(ts, Tone{Frequency: morseFreq, Duration: time.Duration(ms) * time.Millisecond})
	}
	if len(ts) == 0 {
		return ToneSequence{}, fmt.Errorf("empty morse pattern")
	}
	return ToneSequence{Name: "morse " + pattern, Tones: ts}, nil
}

var morseLetters = map[rune]string{
	'A': ".-", 'B': "-...", 'C': "-.-.", 'D': "-..", 'E': ".", 'F': "..-.",
	'G': "--.", 'H': "....", 'I': "..", 'J': ".---", 'K': "-.-", 'L': ".-..",
	'M': "--", 'N': "-.", 'O': "---", 'P': ".--.", 'Q': "--.-", 'R': ".-.",
	'S': "...", 'T': "-", 'U': "..-", 'V': "...-", 'W': ".--", 'X': "-..-",
	'Y': "-.--", 'Z': "--..",
}

var toneStyles = map[string]ToneSequence{
	"classic-8-tone": {Name: "classic-8-tone", Tones: tones(
		[]float64{1047, 0, 1109, 0, 1175, 0, 1245, 0, 1319, 0, 1397, 0, 1480, 0, 1568},
		[]int{40, 10, 40, 10, 40, 10, 40, 10, 40, 10, 40, 10, 40, 10, 40})},
	"two-tone":     {Name: "two-tone", Tones: tones([]float64{1800, 0, 1200}, []int{100, 20, 100})},
	"three-tone":   {Name: "three-tone", Tones: tones([]float64{800, 1200, 1600}, []int{80, 80, 120})},
	"four-descend": {Name: "four-descend", Tones: tones([]float64{2000, 1600, 1200, 800}, []int{60, 60, 60, 80})},
	"chirp":        {Name: "chirp", Tones: tones([]float64{1500}, []int{80})},
	"long-beep":    {Name: "long-beep", Tones: tones([]float64{1000}, []int{250})},
}

// ToneStyle looks up a named roger beep style. Names of the form
// "morse-X" render the morse code for letter X.
func ToneStyle(name string) (ToneSequence, error) {
	if seq, ok := toneStyles[name]; ok {
		return seq, nil
	}
	if letter, ok := strings.CutPrefix(name, "morse-"); ok && len(letter) == 1 {
		if pattern, ok := morseLetters[rune(strings.ToUpper(letter)[0])]; ok {
			seq, err := Morse(pattern)
			seq.Name = name
			return seq, err
		}
	}
	return ToneSequence{}, fmt.Errorf("unknown tone style %q", name)
}

// ToneStyles lists the built-in style names, sorted.
func ToneStyles() []string {
	names := make([]string, 0, len(toneStyles))
	for name := range toneStyles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Samples returns the number of samples the sequence renders to.
func (s ToneSequence) Samples() int {
	n := 0
	for _, t := range s.Tones {
		n += toneSamples(t.Duration)
	}
	return n
}

func toneSamples(d time.Duration) int {
	return int(int64(ToneSampleRate) * d.Milliseconds() / 1000)
}

// Render produces 48kHz mono PCM for the sequence. Volume is 0.0 to 1.0 of
// a peak amplitude of 80% full scale.
func (s ToneSequence) Render(volume float64) []int16 {
	volume = math.Max(0, math.Min(1, volume))
	amplitude := 32767 * 0.8 * volume

	out := make([]int16, s.Samples())
	off := 0
	for _, t := range s.Tones {
		n := toneSamples(t.Duration)
		if t.Frequency > 0 {
			for i := 0; i < n; i++ {
				out[off+i] = int16(amplitude * math.Sin(2*math.Pi*t.Frequency*float64(i)/ToneSampleRate))
			}
		}
		off += n
	}
	return out
}

// Normalize scales samples so the peak reaches 90% of full scale, then
// applies volume. Silent input is returned unchanged.
func Normalize(samples []int16, volume float64) []int16 {
	var peak int64
	for _, s := range samples {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		peak = max(peak, v)
	}
	out := make([]int16, len(samples))
	if peak == 0 {
		copy(out, samples)
		return out
	}
	factor := 29490.0 / float64(peak) * math.Max(0, volume)
	for i, s := range samples {
		out[i] = ClampSample(int64(float64(s) * factor))
	}
	return out
}
