package decode

import (
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"

	"github.com/e1z0/avplayer/internal/queue"
)

// newTestVideoCodecContext opens a real rawvideo decoder context, the
// cheapest real astiav.CodecContext that doesn't need an actual
// container/stream to construct, just so Decode has a live codec to call
// SendPacket/ReceiveFrame against.
func newTestVideoCodecContext(t *testing.T) *astiav.CodecContext {
	t.Helper()

	dec := astiav.FindDecoder(astiav.CodecIDRawvideo)
	require.NotNil(t, dec, "rawvideo decoder must be available")

	ctx := astiav.AllocCodecContext(dec)
	require.NotNil(t, ctx)

	ctx.SetWidth(16)
	ctx.SetHeight(16)
	ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	ctx.SetTimeBase(astiav.NewRational(1, 25))

	require.NoError(t, ctx.Open(dec, nil))
	return ctx
}

func TestDecoder_EmptyAbortedQueueReturnsEmpty(t *testing.T) {
	ctx := newTestVideoCodecContext(t)
	q := queue.NewPacketQueue() // never started: aborted and empty

	d := New(ctx, astiav.MediaTypeVideo, q, func() {}, true)
	defer d.Destroy()

	frame := astiav.AllocFrame()
	defer frame.Free()

	res, err := d.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, Empty, res)
}

func TestDecoder_NullPacketSignalsEnd(t *testing.T) {
	ctx := newTestVideoCodecContext(t)
	q := queue.NewPacketQueue()
	q.Start()
	q.PutNull(0)

	signaled := false
	d := New(ctx, astiav.MediaTypeVideo, q, func() { signaled = true }, true)
	defer d.Destroy()

	frame := astiav.AllocFrame()
	defer frame.Free()

	res, err := d.Decode(frame)
	require.NoError(t, err)
	require.Equal(t, End, res)
	require.Equal(t, q.GetSerial(), d.Finished())
	_ = signaled
}

func TestDecoder_PacketSerialTracksQueueGeneration(t *testing.T) {
	ctx := newTestVideoCodecContext(t)
	q := queue.NewPacketQueue()
	q.Start()

	d := New(ctx, astiav.MediaTypeVideo, q, func() {}, true)
	defer d.Destroy()

	require.Equal(t, 0, d.PacketSerial())

	q.PutNull(0)
	frame := astiav.AllocFrame()
	defer frame.Free()
	_, err := d.Decode(frame)
	require.NoError(t, err)

	require.Equal(t, q.GetSerial(), d.PacketSerial())
}
