package astrortsp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"sync/atomic"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h265"
	"github.com/pion/rtp"
)

const (
	codecH264  = "h264"
	codecH265  = "hevc"
	codecMJPEG = "mjpeg"
)

var errNoVideoTrack = errors.New("no H264, H265 or MJPEG track")

// NativeBackend talks RTSP directly and waits for the first keyframe.
// H264/H265 keyframes are turned into pixels by the keyframe decoder.
type NativeBackend struct {
	opts   Options
	decode KeyframeDecoder
}

func NewNativeBackend(opts Options) *NativeBackend {
	return &NativeBackend{
		opts:   opts,
		decode: FFmpegKeyframeDecoder(opts.ffmpeg()),
	}
}

// Open connects, describes the stream, sets up its video track and starts
// playback. The invalid-certificate option is not applied here.
func (b *NativeBackend) Open(_ context.Context, src StreamSource) (Session, error) {
	u, err := base.ParseURL(src.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{
		Transport: &transport,
	}
	if b.opts.Timeout > 0 {
		client.ReadTimeout = b.opts.Timeout
		client.WriteTimeout = b.opts.Timeout
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	s := &nativeSession{
		frames:  make(chan keyframe, 1),
		done:    make(chan error, 1),
		decode:  b.decode,
		release: client.Close,
	}

	if err := s.setup(client, u); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	go func() { s.done <- client.Wait() }()
	return s, nil
}

type keyframe struct {
	codec string
	au    [][]byte
	jpeg  []byte
}

type nativeSession struct {
	frames    chan keyframe
	done      chan error
	got       atomic.Bool
	decode    KeyframeDecoder
	release   func()
	closeOnce sync.Once
}

func (s *nativeSession) setup(client *gortsplib.Client, u *base.URL) error {
	desc, _, err := client.Describe(u)
	if err != nil {
		return err
	}

	var onPacket func(*rtp.Packet)
	medi, forma, err := s.selectTrack(desc, &onPacket)
	if err != nil {
		return err
	}

	if _, err := client.Setup(desc.BaseURL, medi, 0, 0); err != nil {
		return err
	}
	client.OnPacketRTP(medi, forma, onPacket)

	_, err = client.Play(nil)
	return err
}

// selectTrack picks the first supported video track and builds the RTP
// callback that extracts a keyframe from it.
func (s *nativeSession) selectTrack(desc *description.Session, onPacket *func(*rtp.Packet)) (*description.Media, format.Format, error) {
	var h264Format *format.H264
	if medi := desc.FindFormat(&h264Format); medi != nil {
		dec, err := h264Format.CreateDecoder()
		if err != nil {
			return nil, nil, err
		}
		*onPacket = func(pkt *rtp.Packet) {
			if s.got.Load() {
				return
			}
			au, err := dec.Decode(pkt)
			if err != nil || !h264.IDRPresent(au) {
				return
			}
			sps, pps := h264Format.SafeParams()
			s.deliver(keyframe{codec: codecH264, au: withParams(au, sps, pps)})
		}
		return medi, h264Format, nil
	}

	var h265Format *format.H265
	if medi := desc.FindFormat(&h265Format); medi != nil {
		dec, err := h265Format.CreateDecoder()
		if err != nil {
			return nil, nil, err
		}
		*onPacket = func(pkt *rtp.Packet) {
			if s.got.Load() {
				return
			}
			au, err := dec.Decode(pkt)
			if err != nil || !h265.IsRandomAccess(au) {
				return
			}
			vps, sps, pps := h265Format.SafeParams()
			s.deliver(keyframe{codec: codecH265, au: withParams(au, vps, sps, pps)})
		}
		return medi, h265Format, nil
	}

	var mjpegFormat *format.MJPEG
	if medi := desc.FindFormat(&mjpegFormat); medi != nil {
		dec, err := mjpegFormat.CreateDecoder()
		if err != nil {
			return nil, nil, err
		}
		*onPacket = func(pkt *rtp.Packet) {
			if s.got.Load() {
				return
			}
			frame, err := dec.Decode(pkt)
			if err != nil {
				return
			}
			s.deliver(keyframe{codec: codecMJPEG, jpeg: frame})
		}
		return medi, mjpegFormat, nil
	}

	return nil, nil, errNoVideoTrack
}

func (s *nativeSession) deliver(kf keyframe) {
	if !s.got.CompareAndSwap(false, true) {
		return
	}
	s.frames <- kf
}

// ReadFrame waits for the first keyframe, releases the connection and
// decodes the keyframe.
func (s *nativeSession) ReadFrame(ctx context.Context) (image.Image, error) {
	var kf keyframe
	select {
	case kf = <-s.frames:
	case err := <-s.done:
		select {
		case kf = <-s.frames:
		default:
			return nil, fmt.Errorf("%w: stream closed before a keyframe: %v", ErrReadFailed, err)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, ctx.Err())
	}

	_ = s.Close()

	if kf.codec == codecMJPEG {
		img, err := jpeg.Decode(bytes.NewReader(kf.jpeg))
		if err != nil {
			return nil, fmt.Errorf("%w: decode jpeg: %v", ErrReadFailed, err)
		}
		return img, nil
	}

	annexb, err := h264.AnnexBMarshal(kf.au)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	img, err := s.decode(ctx, kf.codec, annexb)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s keyframe: %v", ErrReadFailed, kf.codec, err)
	}
	return img, nil
}

func (s *nativeSession) Close() error {
	s.closeOnce.Do(s.release)
	return nil
}

// withParams prepends the out-of-band parameter sets to an access unit.
func withParams(au [][]byte, params ...[]byte) [][]byte {
	out := make([][]byte, 0, len(au)+len(params))
	for _, p := range params {
		if len(p) > 0 {
			out = append(out, p)
		}
	}
	return append(out, au...)
}
