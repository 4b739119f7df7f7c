// Package stack provides the core multi-dimensional image containers used
// throughout the pipeline. Stacks have a fixed axis order
// {animal, channel, pair, row, col} and are backed by flat row-major slices.
// Channel lookups go through an integer index map built once at construction
// so the numeric pipeline never performs string-keyed selection.
package stack

import (
	"fmt"
	"strings"
)

// TLChannel is the transmitted-light channel name. Transmitted-light frames
// carry no fluorescence signal and are excluded from segmentation, pose
// estimation and midline fitting. Matching is case-insensitive.
const TLChannel = "TL"

// Stack is a 5-dimensional fluorescence intensity tensor indexed by
// (animal, channel, pair, row, col).
type Stack struct {
	// Channels is the ordered list of wavelength channel names, e.g.
	// ["410", "470", "TL"].
	Channels []string

	// Animals, Pairs, Rows, Cols are the remaining axis extents.
	Animals int
	Pairs   int
	Rows    int
	Cols    int

	// Data is the flat backing array in row-major axis order.
	Data []float64

	// channelIdx maps channel name to its index along the channel axis.
	channelIdx map[string]int
}

// MaskStack is a same-shaped binary segmentation tensor. A frame may
// legitimately be all-background (e.g. transmitted-light channels).
type MaskStack struct {
	Channels []string
	Animals  int
	Pairs    int
	Rows     int
	Cols     int
	Data     []bool

	channelIdx map[string]int
}

// ProfileStack holds sampled intensity profiles indexed by
// (animal, channel, pair, position).
type ProfileStack struct {
	Channels []string
	Animals  int
	Pairs    int
	Points   int
	Data     []float64

	channelIdx map[string]int
}

// Frame is a borrowed 2-D view (rows x cols) into a Stack. The backing slice
// aliases the stack; callers that transform a frame must write results into a
// separate output stack.
type Frame struct {
	Rows, Cols int
	Pix        []float64
}

// MaskFrame is a borrowed 2-D view into a MaskStack.
type MaskFrame struct {
	Rows, Cols int
	Pix        []bool
}

func buildChannelIndex(channels []string) map[string]int {
	idx := make(map[string]int, len(channels))
	for i, c := range channels {
		idx[c] = i
	}
	return idx
}

// NewStack allocates a zero-filled stack with the given extents.
func NewStack(channels []string, animals, pairs, rows, cols int) *Stack {
	return &Stack{
		Channels:   append([]string(nil), channels...),
		Animals:    animals,
		Pairs:      pairs,
		Rows:       rows,
		Cols:       cols,
		Data:       make([]float64, animals*len(channels)*pairs*rows*cols),
		channelIdx: buildChannelIndex(channels),
	}
}

// NewMaskStack allocates an all-background mask stack with the given extents.
func NewMaskStack(channels []string, animals, pairs, rows, cols int) *MaskStack {
	return &MaskStack{
		Channels:   append([]string(nil), channels...),
		Animals:    animals,
		Pairs:      pairs,
		Rows:       rows,
		Cols:       cols,
		Data:       make([]bool, animals*len(channels)*pairs*rows*cols),
		channelIdx: buildChannelIndex(channels),
	}
}

// NewProfileStack allocates a zero-filled profile stack.
func NewProfileStack(channels []string, animals, pairs, points int) *ProfileStack {
	return &ProfileStack{
		Channels:   append([]string(nil), channels...),
		Animals:    animals,
		Pairs:      pairs,
		Points:     points,
		Data:       make([]float64, animals*len(channels)*pairs*points),
		channelIdx: buildChannelIndex(channels),
	}
}

// IsTL reports whether the given channel name is the transmitted-light
// channel.
func IsTL(channel string) bool {
	return strings.EqualFold(channel, TLChannel)
}

// ChannelIndex returns the index of the named channel along the channel axis.
func (s *Stack) ChannelIndex(name string) (int, error) {
	i, ok := s.channelIdx[name]
	if !ok {
		return 0, fmt.Errorf("unknown channel %q (have %v)", name, s.Channels)
	}
	return i, nil
}

// ChannelIndex returns the index of the named channel along the channel axis.
func (m *MaskStack) ChannelIndex(name string) (int, error) {
	i, ok := m.channelIdx[name]
	if !ok {
		return 0, fmt.Errorf("unknown channel %q (have %v)", name, m.Channels)
	}
	return i, nil
}

// ChannelIndex returns the index of the named channel along the channel axis.
func (p *ProfileStack) ChannelIndex(name string) (int, error) {
	i, ok := p.channelIdx[name]
	if !ok {
		return 0, fmt.Errorf("unknown channel %q (have %v)", name, p.Channels)
	}
	return i, nil
}

func (s *Stack) frameOffset(animal, channel, pair int) int {
	frameSize := s.Rows * s.Cols
	return ((animal*len(s.Channels)+channel)*s.Pairs + pair) * frameSize
}

func (m *MaskStack) frameOffset(animal, channel, pair int) int {
	frameSize := m.Rows * m.Cols
	return ((animal*len(m.Channels)+channel)*m.Pairs + pair) * frameSize
}

// Frame returns a borrowed 2-D view of one (animal, channel, pair) slice.
func (s *Stack) Frame(animal, channel, pair int) Frame {
	off := s.frameOffset(animal, channel, pair)
	return Frame{Rows: s.Rows, Cols: s.Cols, Pix: s.Data[off : off+s.Rows*s.Cols]}
}

// Frame returns a borrowed 2-D view of one (animal, channel, pair) slice.
func (m *MaskStack) Frame(animal, channel, pair int) MaskFrame {
	off := m.frameOffset(animal, channel, pair)
	return MaskFrame{Rows: m.Rows, Cols: m.Cols, Pix: m.Data[off : off+m.Rows*m.Cols]}
}

// Profile returns the borrowed 1-D profile for one (animal, channel, pair).
func (p *ProfileStack) Profile(animal, channel, pair int) []float64 {
	off := ((animal*len(p.Channels)+channel)*p.Pairs + pair) * p.Points
	return p.Data[off : off+p.Points]
}

// At returns the pixel intensity at (row, col).
func (f Frame) At(row, col int) float64 { return f.Pix[row*f.Cols+col] }

// Set stores the pixel intensity at (row, col).
func (f Frame) Set(row, col int, v float64) { f.Pix[row*f.Cols+col] = v }

// At reports whether the mask is foreground at (row, col).
func (f MaskFrame) At(row, col int) bool { return f.Pix[row*f.Cols+col] }

// Set stores the mask value at (row, col).
func (f MaskFrame) Set(row, col int, v bool) { f.Pix[row*f.Cols+col] = v }

// Clone returns a deep copy of the stack.
func (s *Stack) Clone() *Stack {
	out := NewStack(s.Channels, s.Animals, s.Pairs, s.Rows, s.Cols)
	copy(out.Data, s.Data)
	return out
}

// Clone returns a deep copy of the mask stack.
func (m *MaskStack) Clone() *MaskStack {
	out := NewMaskStack(m.Channels, m.Animals, m.Pairs, m.Rows, m.Cols)
	copy(out.Data, m.Data)
	return out
}

// EmptyLike allocates a zero-filled stack with the same extents as s.
func (s *Stack) EmptyLike() *Stack {
	return NewStack(s.Channels, s.Animals, s.Pairs, s.Rows, s.Cols)
}

// EmptyLike allocates an all-background mask stack with the same extents as m.
func (m *MaskStack) EmptyLike() *MaskStack {
	return NewMaskStack(m.Channels, m.Animals, m.Pairs, m.Rows, m.Cols)
}

// SameShape reports whether the fluorescence stack and mask stack are
// index-aligned along every axis.
func (s *Stack) SameShape(m *MaskStack) bool {
	if len(s.Channels) != len(m.Channels) {
		return false
	}
	for i := range s.Channels {
		if s.Channels[i] != m.Channels[i] {
			return false
		}
	}
	return s.Animals == m.Animals && s.Pairs == m.Pairs &&
		s.Rows == m.Rows && s.Cols == m.Cols
}
