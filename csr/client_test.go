package csr

import (
	"context"
	"encoding/json"
	"testing"

	"csrbridge/bus"
	"csrbridge/bus/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T) (*Client, *mock.Peer) {
	log := zaptest.NewLogger(t)
	p := mock.NewPeer(8, log)
	b := bus.NewClient(bus.NewStream(p.Pipe()), bus.WithLogger(log))
	t.Cleanup(func() { b.Close() })

	c, err := NewClient(loadTestAnnotations(t), b)
	require.NoError(t, err)
	return c, p
}

func TestClient_Register(t *testing.T) {
	c, p := newTestClient(t)
	ctx := context.Background()

	r, err := c.Register("uart.status")
	require.NoError(t, err)
	assert.Equal(t, uint64(17), r.Offset())
	assert.Equal(t, []string{"uart", "status"}, r.Path())
	assert.Equal(t, 8, r.Width())

	p.Poke(17, 0x5a)
	v, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x5a), v)

	require.NoError(t, r.Write(ctx, 0xc3))
	assert.Equal(t, byte(0xc3), p.Peek(17))

	// registers hold no cached value
	p.Poke(17, 0x01)
	v, err = r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x01), v)
}

func TestClient_RegisterThroughPartial(t *testing.T) {
	c, p := newTestClient(t)
	ctx := context.Background()

	n, err := c.Resolve("periph")
	require.NoError(t, err)
	assert.False(t, n.CanReadWrite())

	n, err = n.Lookup("spi", "data")
	require.NoError(t, err)
	assert.True(t, n.CanReadWrite())

	r, err := n.Register()
	require.NoError(t, err)
	require.NoError(t, r.Write(ctx, 0x7e))
	assert.Equal(t, byte(0x7e), p.Peek(35))
}

func TestClient_RegisterErrors(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Register("uart.nope")
	require.ErrorIs(t, err, ErrPathNotFound)

	_, err = c.Register("uart")
	require.ErrorIs(t, err, ErrNotRegister)

	_, err = c.Register("a")
	require.ErrorIs(t, err, ErrNotRegister)
}

func TestClient_Widths(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Equal(t, 8, c.AddrWidth())
	assert.Equal(t, 8, c.Map().DataWidth())
}

func TestNewClient_DataWidth(t *testing.T) {
	a := loadTestAnnotations(t)
	a[BusSchema] = json.RawMessage(`{"addr_width": 8, "data_width": 16}`)

	_, err := NewClient(a, nil)
	require.ErrorIs(t, err, ErrSchemaMismatch)

	delete(a, BusSchema)
	_, err = NewClient(a, nil)
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

type shortBus struct{}

func (shortBus) Read8(context.Context, uint64, int) ([]byte, error) { return nil, nil }
func (shortBus) Write8(context.Context, uint64, []byte, ...bus.WriteOption) error {
	return nil
}

func TestClient_ShortRead(t *testing.T) {
	c, err := NewClient(loadTestAnnotations(t), shortBus{})
	require.NoError(t, err)

	_, err = c.Read(context.Background(), 0)
	require.Error(t, err)
}

func TestClient_BusErrorsPassThrough(t *testing.T) {
	log := zaptest.NewLogger(t)
	p := mock.NewPeer(4, log)
	b := bus.NewClient(bus.NewStream(p.Pipe()), bus.WithLogger(log))
	defer b.Close()

	// the map describes addresses the 4-bit peer cannot reach
	c, err := NewClient(loadTestAnnotations(t), b)
	require.NoError(t, err)

	r, err := c.Register("id")
	require.NoError(t, err)
	_, err = r.Read(context.Background())
	require.NoError(t, err)

	r, err = c.Register("periph.spi.data")
	require.NoError(t, err)
	_, err = r.Read(context.Background())
	require.ErrorIs(t, err, bus.ErrAddressRange)
}
