package selection

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"go.klb.dev/wlsel/internal/mimestore"
	"go.klb.dev/wlsel/internal/pipe"
)

var patient = WithTransport(pipe.Transport{Timeout: time.Second})

type fakeSource struct {
	offered   []string
	destroyed int
}

func (f *fakeSource) Offer(mimeType string) { f.offered = append(f.offered, mimeType) }
func (f *fakeSource) Destroy()              { f.destroyed++ }

type setCall struct {
	source *fakeSource
	serial uint32
}

type fakeDevice struct {
	calls []setCall
}

func (f *fakeDevice) SetSelection(source *fakeSource, serial uint32) {
	f.calls = append(f.calls, setCall{source, serial})
}

// fakeOffer answers Receive the way a compositor would: it hands a
// duplicate of the write end to the owning Source on another goroutine.
type fakeOffer struct {
	peer      *Source[*fakeSource]
	err       error
	requested []string
	destroyed int
	wg        sync.WaitGroup
}

func (f *fakeOffer) Receive(mimeType string, fd int) error {
	f.requested = append(f.requested, mimeType)
	if f.err != nil {
		return f.err
	}
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return err
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		_, _ = f.peer.Send(mimeType, dup)
	}()
	return nil
}

func (f *fakeOffer) Destroy() { f.destroyed++ }

type fakeFlusher struct {
	n   int
	err error
}

func (f *fakeFlusher) Flush() error {
	f.n++
	return f.err
}

type testDevice = Device[*fakeSource, *fakeOffer]

func newTestDevice() (*testDevice, *fakeDevice) {
	h := &fakeDevice{}
	return NewDevice[*fakeSource, *fakeOffer](h), h
}

func newTestSource(t *testing.T, kv ...string) (*Source[*fakeSource], *fakeSource) {
	t.Helper()
	require.Zero(t, len(kv)%2)
	h := &fakeSource{}
	src := NewSource(h, patient)
	for i := 0; i < len(kv); i += 2 {
		require.NoError(t, src.AddData(kv[i], []byte(kv[i+1])))
	}
	return src, h
}

func TestSourceAddDataCopies(t *testing.T) {
	src, _ := newTestSource(t)
	buf := []byte("hello")
	require.NoError(t, src.AddData("text/html", buf))
	buf[0] = 'j'

	got, err := src.Data("text/html", false)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestSourceLegacyTextLabels(t *testing.T) {
	src, _ := newTestSource(t, "UTF8_STRING", "abc")

	assert.Equal(t, []string{mimestore.TextPlainUTF8}, src.Types())
	for _, label := range []string{"text/plain", "TEXT", "STRING", mimestore.TextPlainUTF8} {
		assert.True(t, src.HasType(label), label)
	}
	assert.False(t, src.HasType("text/html"))
}

func TestSourceDataNullTerminated(t *testing.T) {
	src, _ := newTestSource(t, "text/plain", "abc")

	got, err := src.Data("TEXT", true)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 'c', 0}, got)

	got, err = src.Data("image/png", true)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSourceSend(t *testing.T) {
	want := bytes.Repeat([]byte("0123456789"), 2000)
	src, _ := newTestSource(t)
	require.NoError(t, src.AddData("application/octet-stream", want))

	r, w, err := pipe.NewPipe()
	require.NoError(t, err)
	defer pipe.Close(r)

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := src.Send("application/octet-stream", w)
		done <- result{n, err}
	}()

	got, err := pipe.Transport{Timeout: time.Second}.ReadAll(r, false)
	require.NoError(t, err)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, len(want), res.n)
	assert.Equal(t, want, got)
}

func TestSourceSendUnknownTypeClosesDescriptor(t *testing.T) {
	src, _ := newTestSource(t, "text/plain", "abc")

	r, w, err := pipe.NewPipe()
	require.NoError(t, err)
	defer pipe.Close(r)

	n, err := src.Send("image/png", w)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrUnknownType)

	// The write end is gone, so the reader sees EOF straight away.
	got, err := pipe.ReadAll(r, false)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestSourceDestroy(t *testing.T) {
	src, h := newTestSource(t, "text/plain", "abc")
	src.Destroy()
	src.Destroy()

	assert.Equal(t, 1, h.destroyed)
	assert.True(t, src.Destroyed())
	assert.Empty(t, src.Types())
	assert.ErrorIs(t, src.AddData("text/plain", []byte("x")), ErrInvalidHandle)
	_, err := src.Data("text/plain", false)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestDeviceAdvertisesAliases(t *testing.T) {
	d, dh := newTestDevice()
	require.NoError(t, d.SetSerial(9))

	src, sh := newTestSource(t, "text/plain;charset=utf-8", "hi", "image/png", "\x89PNG")
	require.NoError(t, d.SetSelection(src))

	assert.Equal(t, []string{
		"text/plain;charset=utf-8", "text/plain", "TEXT", "UTF8_STRING", "STRING",
		"image/png",
	}, sh.offered)
	require.Len(t, dh.calls, 1)
	assert.Same(t, sh, dh.calls[0].source)
	assert.Equal(t, uint32(9), dh.calls[0].serial)
	assert.Equal(t, StateActive, d.State())
	assert.Same(t, src, d.Source())
}

func TestDeviceSetSelectionWithoutTypes(t *testing.T) {
	d, dh := newTestDevice()
	src, sh := newTestSource(t)

	err := d.SetSelection(src)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, StateEmpty, d.State())
	assert.Nil(t, d.Source())
	assert.Empty(t, dh.calls)
	assert.Empty(t, sh.offered)
}

func TestDeviceSetSelectionWithoutTypesClearsPrevious(t *testing.T) {
	d, dh := newTestDevice()
	require.NoError(t, d.SetSerial(3))
	first, fh := newTestSource(t, "text/plain", "one")
	require.NoError(t, d.SetSelection(first))

	empty, _ := newTestSource(t)
	assert.ErrorIs(t, d.SetSelection(empty), ErrNoData)

	assert.Equal(t, StateEmpty, d.State())
	assert.Equal(t, 1, fh.destroyed)
	require.Len(t, dh.calls, 2)
	assert.Nil(t, dh.calls[1].source)
	assert.Zero(t, dh.calls[1].serial)
}

func TestDevicePendingUntilSerial(t *testing.T) {
	d, dh := newTestDevice()
	src, sh := newTestSource(t, "text/plain", "later")

	require.NoError(t, d.SetSelection(src))
	assert.Equal(t, StatePending, d.State())
	assert.Empty(t, dh.calls)

	require.NoError(t, d.SetSerial(0))
	assert.Empty(t, dh.calls)
	assert.Equal(t, StatePending, d.State())

	require.NoError(t, d.SetSerial(42))
	require.Len(t, dh.calls, 1)
	assert.Same(t, sh, dh.calls[0].source)
	assert.Equal(t, StateActive, d.State())
	assert.Equal(t, uint32(42), d.Serial())

	require.NoError(t, d.SetSerial(43))
	assert.Len(t, dh.calls, 1)
}

func TestDeviceSetSerialAppliesPreviousSerial(t *testing.T) {
	d, dh := newTestDevice()
	src, _ := newTestSource(t, "text/plain", "x")
	require.NoError(t, d.SetSelection(src))

	require.NoError(t, d.SetSerial(1234))
	require.Len(t, dh.calls, 1)
	assert.Zero(t, dh.calls[0].serial)
}

func TestDeviceSetSerialLogsAnnouncedSerial(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	d, _ := newTestDevice()
	src, _ := newTestSource(t, "text/plain", "x")
	require.NoError(t, d.SetSelection(src))
	require.NoError(t, d.SetSerial(1234))

	assert.Contains(t, buf.String(), `"msg":"pending selection announced"`)
	assert.Contains(t, buf.String(), `"announced_serial":0`)
	assert.Contains(t, buf.String(), `"serial":1234`)
}

func TestDeviceReplacesSource(t *testing.T) {
	d, dh := newTestDevice()
	require.NoError(t, d.SetSerial(5))

	first, fh := newTestSource(t, "text/plain", "one")
	second, sh := newTestSource(t, "text/plain", "two")
	require.NoError(t, d.SetSelection(first))
	require.NoError(t, d.SetSelection(second))

	assert.True(t, first.Destroyed())
	assert.Equal(t, 1, fh.destroyed)
	assert.Zero(t, sh.destroyed)
	assert.Same(t, second, d.Source())
	require.Len(t, dh.calls, 2)
	assert.Same(t, sh, dh.calls[1].source)
}

func TestDeviceSetSelectionSameSourceTwice(t *testing.T) {
	d, _ := newTestDevice()
	src, sh := newTestSource(t, "image/png", "x")
	require.NoError(t, d.SetSelection(src))
	require.NoError(t, d.SetSelection(src))

	assert.Zero(t, sh.destroyed)
	assert.Same(t, src, d.Source())
}

func TestDeviceClearSelection(t *testing.T) {
	d, dh := newTestDevice()
	require.NoError(t, d.SetSerial(5))
	src, sh := newTestSource(t, "text/plain", "bye")
	require.NoError(t, d.SetSelection(src))

	require.NoError(t, d.ClearSelection())
	assert.Equal(t, StateEmpty, d.State())
	assert.Equal(t, 1, sh.destroyed)
	require.Len(t, dh.calls, 2)
	assert.Nil(t, dh.calls[1].source)
	assert.Zero(t, dh.calls[1].serial)

	require.NoError(t, d.ClearSelection())
	assert.Len(t, dh.calls, 2)
}

func TestSourceDestroyDetachesFromDevice(t *testing.T) {
	d, _ := newTestDevice()
	src, _ := newTestSource(t, "text/plain", "x")
	require.NoError(t, d.SetSelection(src))

	src.Destroy()
	assert.Nil(t, d.Source())
	assert.Equal(t, StateEmpty, d.State())
}

func TestDeviceInvalidHandles(t *testing.T) {
	src, _ := newTestSource(t, "text/plain", "x")

	var nilDevice *testDevice
	noHandle := NewDevice[*fakeSource, *fakeOffer](nil)
	for name, d := range map[string]*testDevice{"nil device": nilDevice, "nil handle": noHandle} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, d.SetSelection(src), ErrInvalidHandle)
			assert.ErrorIs(t, d.ClearSelection(), ErrInvalidHandle)
			assert.ErrorIs(t, d.SetSerial(1), ErrInvalidHandle)
			assert.Equal(t, StateEmpty, d.State())
			assert.Nil(t, d.Offer())
		})
	}

	d, _ := newTestDevice()
	assert.ErrorIs(t, d.SetSelection(nil), ErrInvalidHandle)
	src.Destroy()
	assert.ErrorIs(t, d.SetSelection(src), ErrInvalidHandle)
}

func TestDeviceSetOffer(t *testing.T) {
	d, _ := newTestDevice()
	first := NewOffer(&fakeOffer{}, &fakeFlusher{})
	second := NewOffer(&fakeOffer{}, &fakeFlusher{})

	d.SetOffer(first)
	d.SetOffer(first)
	assert.Zero(t, first.Handle().destroyed)

	d.SetOffer(second)
	assert.Equal(t, 1, first.Handle().destroyed)
	assert.Same(t, second, d.Offer())

	d.SetOffer(nil)
	assert.Equal(t, 1, second.Handle().destroyed)
	assert.Nil(t, d.Offer())
}

func TestDeviceClose(t *testing.T) {
	d, _ := newTestDevice()
	src, sh := newTestSource(t, "text/plain", "x")
	require.NoError(t, d.SetSelection(src))
	offer := NewOffer(&fakeOffer{}, &fakeFlusher{})
	d.SetOffer(offer)

	d.Close()
	assert.Equal(t, 1, sh.destroyed)
	assert.Equal(t, 1, offer.Handle().destroyed)
	assert.ErrorIs(t, d.SetSerial(1), ErrInvalidHandle)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "empty", StateEmpty.String())
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "unknown", State(99).String())
}

func newTestOffer(t *testing.T, peer *Source[*fakeSource], types ...string) (*Offer[*fakeOffer], *fakeOffer, *fakeFlusher) {
	t.Helper()
	h := &fakeOffer{peer: peer}
	f := &fakeFlusher{}
	o := NewOffer(h, f, patient)
	for _, typ := range types {
		require.NoError(t, o.AddType(typ))
	}
	t.Cleanup(h.wg.Wait)
	return o, h, f
}

func TestOfferTypes(t *testing.T) {
	o, _, _ := newTestOffer(t, nil, "UTF8_STRING", "text/html", "UTF8_STRING")

	assert.Equal(t, []string{"UTF8_STRING", "text/html"}, o.Types())
	assert.True(t, o.HasType("UTF8_STRING"))
	assert.True(t, o.HasType(mimestore.TextPlainUTF8))
	assert.True(t, o.HasType("TEXT"))
	assert.False(t, o.HasType("image/png"))
}

func TestOfferReceive(t *testing.T) {
	want := bytes.Repeat([]byte{0xab}, 3*pipe.ChunkSize+17)
	peer, _ := newTestSource(t)
	require.NoError(t, peer.AddData("image/png", want))

	o, h, f := newTestOffer(t, peer, "image/png")
	got, err := o.Receive("image/png", false)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"image/png"}, h.requested)
	assert.Equal(t, 1, f.n)
}

func TestOfferReceiveNullTerminated(t *testing.T) {
	peer, _ := newTestSource(t, "text/plain", "hello")
	o, _, _ := newTestOffer(t, peer, mimestore.TextPlainUTF8)

	got, err := o.Receive(mimestore.TextPlainUTF8, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\x00"), got)
}

func TestOfferReceiveRequestsAdvertisedAlias(t *testing.T) {
	peer, _ := newTestSource(t, "text/plain", "legacy")
	o, h, _ := newTestOffer(t, peer, "UTF8_STRING")

	got, err := o.Receive(mimestore.TextPlainUTF8, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("legacy"), got)
	assert.Equal(t, []string{"UTF8_STRING"}, h.requested)
}

func TestOfferReceivePeerSendsNothing(t *testing.T) {
	o, _, _ := newTestOffer(t, nil, "text/plain")

	got, err := o.Receive("text/plain", false)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestOfferReceiveUnknownType(t *testing.T) {
	o, h, f := newTestOffer(t, nil, "text/plain")

	_, err := o.Receive("image/png", false)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Empty(t, h.requested)
	assert.Zero(t, f.n)
}

func TestOfferReceiveErrors(t *testing.T) {
	errPeer := errors.New("peer gone")

	t.Run("request", func(t *testing.T) {
		o, h, f := newTestOffer(t, nil, "text/plain")
		h.err = errPeer
		_, err := o.Receive("text/plain", false)
		assert.ErrorIs(t, err, errPeer)
		assert.Zero(t, f.n)
	})

	t.Run("flush", func(t *testing.T) {
		peer, _ := newTestSource(t, "text/plain", "x")
		o, _, f := newTestOffer(t, peer, "text/plain")
		f.err = errPeer
		_, err := o.Receive("text/plain", false)
		assert.ErrorIs(t, err, errPeer)
	})

	t.Run("no flusher", func(t *testing.T) {
		o := NewOffer(&fakeOffer{}, nil)
		require.NoError(t, o.AddType("text/plain"))
		_, err := o.Receive("text/plain", false)
		assert.ErrorIs(t, err, ErrInvalidHandle)
	})

	t.Run("destroyed", func(t *testing.T) {
		o, h, _ := newTestOffer(t, nil, "text/plain")
		o.Destroy()
		o.Destroy()
		assert.Equal(t, 1, h.destroyed)
		_, err := o.Receive("text/plain", false)
		assert.ErrorIs(t, err, ErrInvalidHandle)
		assert.ErrorIs(t, o.AddType("text/html"), ErrInvalidHandle)
		assert.Empty(t, o.Types())
	})
}
