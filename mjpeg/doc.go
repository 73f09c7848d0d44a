// Package mjpeg splits a Motion-JPEG byte stream into individual JPEG frames.
//
// A live MJPEG feed carries no length field: frames are concatenated back to
// back and their boundaries are only discoverable by scanning for the
// Start-Of-Image (FF D8) and End-Of-Image (FF D9) markers. Bytes arrive in
// segments whose boundaries carry no meaning, so a marker may be split
// across two deliveries.
//
// [Accumulator] owns the not-yet-consumed bytes of one stream. [Extractor]
// scans the accumulator, copies out every complete frame and drops the
// consumed prefix, leaving any partial frame in place for the next segment:
//
//	acc := mjpeg.NewAccumulator()
//	ex := mjpeg.NewExtractor(acc)
//	for seg := range segments {
//		acc.Append(seg)
//		for frame := range ex.Frames() {
//			decode(frame)
//		}
//	}
package mjpeg
