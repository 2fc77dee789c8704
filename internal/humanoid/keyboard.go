// File: internal/humanoid/keyboard.go

package humanoid

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// keyboardNeighbors maps characters to adjacent keys on a QWERTY layout.
var keyboardNeighbors = map[rune]string{
	'1': "2q`", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9-op",
	'q': "wa1s", 'w': "qase23", 'e': "wsdr34", 'r': "edft45", 't': "rfgy56",
	'y': "tghu67", 'u': "yhji78", 'i': "ujko89", 'o': "iklp90", 'p': "ol;0-",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiol,m", 'l': "kop;.",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk,",
}

// commonNgrams are letter sequences typed faster than their parts.
var commonNgrams = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true, "re": true,
	"es": true, "on": true, "st": true, "nt": true,
	"the": true, "and": true, "ing": true, "ion": true, "tio": true,
}

// Type clicks the field to focus it, then types the text word by word in a
// burst-and-pause rhythm with occasional corrected typos.
func (h *Humanoid) Type(ctx context.Context, selector, text string, opts *InteractionOptions) error {
	h.updateFatigue(float64(len(text)) * 0.05)

	if err := h.Click(ctx, selector, opts); err != nil {
		return fmt.Errorf("humanoid: focusing %q: %w", selector, err)
	}
	if err := h.CognitivePause(ctx, 200, 80); err != nil {
		return err
	}

	words := strings.Fields(text)
	for i, word := range words {
		runes := []rune(word)
		for j := 0; j < len(runes); j++ {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Intra-word keystrokes run faster than the base cadence.
			const burstSpeedFactor = 0.7
			advanced, err := h.typeCharacter(ctx, runes, j, burstSpeedFactor)
			if err != nil {
				return err
			}
			if advanced {
				j++
			}
		}

		if i < len(words)-1 {
			h.mu.Lock()
			pauseMs := 100 + float64(len(words[i+1]))*5 + h.rng.Float64()*80
			h.mu.Unlock()
			if err := h.CognitivePause(ctx, pauseMs, pauseMs*0.4); err != nil {
				return err
			}
			if err := h.sendString(ctx, " "); err != nil {
				return err
			}
		}
	}
	return nil
}

// typeCharacter emits one intended character, possibly via a typo sequence.
// advanced reports that the next rune was consumed too (transposition).
func (h *Humanoid) typeCharacter(ctx context.Context, runes []rune, i int, speedFactor float64) (advanced bool, err error) {
	if err := h.keyPause(ctx, speedFactor, speedFactor, runes, i); err != nil {
		return false, err
	}

	h.mu.Lock()
	cfg := h.dynamicConfig
	shouldTypo := h.rng.Float64() < cfg.TypoRate
	h.mu.Unlock()

	if shouldTypo {
		introduced, advanced, err := h.introduceTypo(ctx, cfg, runes, i)
		if err != nil {
			return false, fmt.Errorf("humanoid: typo simulation: %w", err)
		}
		if introduced {
			return advanced, nil
		}
	}

	if err := h.sendString(ctx, string(runes[i])); err != nil {
		return false, fmt.Errorf("humanoid: sending key %q: %w", runes[i], err)
	}
	return false, nil
}

func (h *Humanoid) sendString(ctx context.Context, keys string) error {
	if err := h.executor.SendKeys(ctx, keys); err != nil {
		return err
	}
	return h.executor.Sleep(ctx, h.keyHoldDuration())
}

func (h *Humanoid) keyHoldDuration() time.Duration {
	h.mu.Lock()
	delay := h.rng.NormFloat64()*h.dynamicConfig.KeyHoldStdDev + h.dynamicConfig.KeyHoldMean
	h.mu.Unlock()
	if delay < 20.0 {
		delay = 20.0
	}
	return time.Duration(delay) * time.Millisecond
}

// keyPause sleeps the inter-key delay, compressed for common n-grams and
// stretched by fatigue.
func (h *Humanoid) keyPause(ctx context.Context, meanScale, stdDevScale float64, runes []rune, index int) error {
	h.mu.Lock()
	cfg := h.dynamicConfig
	noise := h.rng.NormFloat64()
	fatigue := h.fatigueLevel
	h.mu.Unlock()

	mean := cfg.KeyPauseMean * meanScale
	stdDev := cfg.KeyPauseStdDev * stdDevScale
	minDelay := cfg.KeyPauseMin * meanScale

	ngramFactor := 1.0
	if runes != nil && index > 1 {
		trigraph := strings.ToLower(string(runes[index-2 : index+1]))
		if commonNgrams[trigraph] {
			ngramFactor = cfg.KeyPauseNgramFactor3
		} else if commonNgrams[strings.ToLower(string(runes[index-1:index+1]))] {
			ngramFactor = cfg.KeyPauseNgramFactor2
		}
	}
	mean *= ngramFactor
	minDelay *= ngramFactor
	mean *= 1.0 + fatigue*cfg.KeyPauseFatigueFactor

	duration := time.Duration(math.Max(minDelay, noise*stdDev+mean)) * time.Millisecond
	h.recoverFatigue(duration)
	return h.executor.Sleep(ctx, duration)
}

// introduceTypo selects a typo kind from the conditional distribution.
func (h *Humanoid) introduceTypo(ctx context.Context, cfg Config, runes []rune, i int) (introduced, advanced bool, err error) {
	char := runes[i]
	h.mu.Lock()
	p := h.rng.Float64()
	h.mu.Unlock()

	if p < cfg.TypoNeighborRate {
		return h.neighborTypo(ctx, cfg, char)
	}
	p -= cfg.TypoNeighborRate

	if p < cfg.TypoTransposeRate {
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		return h.transpositionTypo(ctx, cfg, char, next)
	}
	p -= cfg.TypoTransposeRate

	if p < cfg.TypoOmissionRate {
		return h.omissionTypo(ctx, cfg, char)
	}
	return h.insertionTypo(ctx, cfg, char)
}

// neighborTypo hits an adjacent key, notices, backspaces, retypes.
func (h *Humanoid) neighborTypo(ctx context.Context, cfg Config, char rune) (bool, bool, error) {
	neighbors, ok := keyboardNeighbors[unicode.ToLower(char)]
	if !ok || len(neighbors) == 0 {
		return false, false, nil
	}

	h.mu.Lock()
	typoChar := rune(neighbors[h.rng.Intn(len(neighbors))])
	h.mu.Unlock()
	if unicode.IsUpper(char) {
		typoChar = unicode.ToUpper(typoChar)
	}

	steps := []string{string(typoChar), string(KeyBackspace), string(char)}
	for i, s := range steps {
		if i > 0 {
			// Correction pauses are longer than the regular cadence.
			if err := h.keyPause(ctx, 1.8, 0.6, nil, 0); err != nil {
				return true, false, err
			}
		}
		if err := h.sendString(ctx, s); err != nil {
			return true, false, err
		}
	}
	return true, false, nil
}

// transpositionTypo swaps two characters, usually correcting afterwards.
func (h *Humanoid) transpositionTypo(ctx context.Context, cfg Config, char, next rune) (introduced, advanced bool, err error) {
	if next == 0 || unicode.IsSpace(next) || unicode.IsSpace(char) {
		return false, false, nil
	}

	if err := h.sendString(ctx, string(next)); err != nil {
		return false, true, err
	}
	if err := h.keyPause(ctx, 0.8, 0.3, nil, 0); err != nil {
		return false, true, err
	}
	if err := h.sendString(ctx, string(char)); err != nil {
		return false, true, err
	}
	advanced = true

	h.mu.Lock()
	shouldCorrect := h.rng.Float64() < cfg.TypoCorrectionProbability
	h.mu.Unlock()
	if !shouldCorrect {
		return false, advanced, nil
	}

	steps := []string{string(KeyBackspace), string(KeyBackspace), string(char), string(next)}
	for _, s := range steps {
		if err := h.keyPause(ctx, 1.2, 0.5, nil, 0); err != nil {
			return false, advanced, err
		}
		if err := h.sendString(ctx, s); err != nil {
			return false, advanced, err
		}
	}
	return true, advanced, nil
}

// omissionTypo skips the character, usually noticing and typing it late.
func (h *Humanoid) omissionTypo(ctx context.Context, cfg Config, char rune) (bool, bool, error) {
	if unicode.IsSpace(char) {
		return false, false, nil
	}

	h.mu.Lock()
	shouldNotice := h.rng.Float64() < cfg.TypoNoticeProbability
	h.mu.Unlock()

	if shouldNotice {
		if err := h.keyPause(ctx, 1.8, 0.6, nil, 0); err != nil {
			return true, false, err
		}
		if err := h.sendString(ctx, string(char)); err != nil {
			return true, false, err
		}
	}
	return true, false, nil
}

// insertionTypo types a stray adjacent key before the intended one.
func (h *Humanoid) insertionTypo(ctx context.Context, cfg Config, char rune) (bool, bool, error) {
	neighbors, ok := keyboardNeighbors[unicode.ToLower(char)]
	if !ok || len(neighbors) == 0 {
		return false, false, nil
	}

	h.mu.Lock()
	stray := rune(neighbors[h.rng.Intn(len(neighbors))])
	shouldNotice := h.rng.Float64() < cfg.TypoNoticeProbability
	h.mu.Unlock()

	if err := h.sendString(ctx, string(stray)); err != nil {
		return true, false, err
	}
	if shouldNotice {
		if err := h.keyPause(ctx, 1.8, 0.6, nil, 0); err != nil {
			return true, false, err
		}
		if err := h.sendString(ctx, string(KeyBackspace)); err != nil {
			return true, false, err
		}
	}
	if err := h.keyPause(ctx, 1.1, 0.4, nil, 0); err != nil {
		return true, false, err
	}
	if err := h.sendString(ctx, string(char)); err != nil {
		return true, false, err
	}
	return true, false, nil
}
