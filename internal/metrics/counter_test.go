package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) SetTotals(name, label string, files, bytes uint64) {
	m.Called(name, label, files, bytes)
}

func (m *mockSink) SetErrors(count uint64) {
	m.Called(count)
}

func TestCounterSetAndAdd(t *testing.T) {
	sink := new(mockSink)
	sink.On("SetTotals", Source, "", uint64(2), uint64(100)).Once()
	sink.On("SetTotals", Source, "", uint64(3), uint64(150)).Once()
	sink.On("SetTotals", Source, "", uint64(0), uint64(0)).Once()

	c := NewCounter(Source, sink)
	c.Set(2, 100)
	c.Add(1, 50)

	files, bytes := c.Value()
	assert.Equal(t, uint64(3), files)
	assert.Equal(t, uint64(150), bytes)

	// never below zero
	c.Add(-10, -1000)
	files, bytes = c.Value()
	assert.Zero(t, files)
	assert.Zero(t, bytes)

	sink.AssertExpectations(t)
}

func TestCounterVec(t *testing.T) {
	sink := new(mockSink)
	sink.On("SetTotals", Queue, mock.Anything, mock.Anything, mock.Anything)

	v := NewCounterVec(Queue, sink)
	v.With("files").Add(2, 20)
	v.With("images").Add(1, 5)
	v.With("files").Add(-1, -10)

	assert.Equal(t, []string{"files", "images"}, v.Labels())
	files, bytes := v.Total()
	assert.Equal(t, uint64(2), files)
	assert.Equal(t, uint64(15), bytes)

	v.Reset()
	files, bytes = v.Total()
	assert.Zero(t, files)
	assert.Zero(t, bytes)

	sink.AssertCalled(t, "SetTotals", Queue, "images", uint64(1), uint64(5))
	sink.AssertCalled(t, "SetTotals", Queue, "files", uint64(1), uint64(10))
	sink.AssertCalled(t, "SetTotals", Queue, "files", uint64(0), uint64(0))
}

func TestErrorCounter(t *testing.T) {
	sink := new(mockSink)
	sink.On("SetErrors", uint64(1)).Once()
	sink.On("SetErrors", uint64(2)).Once()
	sink.On("SetErrors", uint64(0)).Once()

	c := NewCounters(sink)
	c.Errors.Inc()
	c.Errors.Inc()
	assert.Equal(t, uint64(2), c.Errors.Value())
	c.Errors.Reset()
	assert.Zero(t, c.Errors.Value())

	sink.AssertExpectations(t)
}

func TestNewCountersNilSink(t *testing.T) {
	c := NewCounters(nil)
	c.Source.Set(1, 2)
	c.Transferred.With("").Add(1, 2)
	c.Errors.Inc()

	files, _ := c.Source.Value()
	assert.Equal(t, uint64(1), files)
}
