// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package msgs

import (
	"testing"

	"github.com/danjacques/gorosbag/cdr"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Catalog", func() {
	var r *cdr.Registry

	BeforeEach(func() {
		r = NewRegistry()
	})

	It("registers every definition with all dependencies resolvable", func() {
		Expect(r.Types()).To(Equal(Names()))
		for _, name := range Names() {
			Expect(r.Resolve(name)).To(Succeed(), "resolving %s", name)
		}
	})

	It("encodes a PoseStamped with the reference layout", func() {
		data, err := r.Encode("geometry_msgs/msg/PoseStamped", cdr.Struct{
			"header": cdr.Struct{
				"stamp":    cdr.Struct{"sec": int32(1), "nanosec": uint32(2)},
				"frame_id": "map",
			},
			"pose": cdr.Struct{
				"position":    cdr.Struct{"x": 1.0, "y": 2.0, "z": 3.0},
				"orientation": cdr.Struct{"w": 1.0},
			},
		})
		Expect(err).ToNot(HaveOccurred())

		// header(4) + stamp(8) + frame_id(4+4) + 7 float64 = 4+16+56.
		Expect(data).To(HaveLen(cdr.HeaderSize + 16 + 56))

		v, err := r.Decode("geometry_msgs/msg/PoseStamped", data)
		Expect(err).ToNot(HaveOccurred())
		Expect(v["pose"].(cdr.Struct)["orientation"]).To(Equal(cdr.Struct{
			"x": 0.0, "y": 0.0, "z": 0.0, "w": 1.0,
		}))
	})

	It("keeps NavSatFix constants out of the wire layout", func() {
		s, ok := r.Lookup("sensor_msgs/msg/NavSatFix")
		Expect(ok).To(BeTrue())
		Expect(s.Constants).To(HaveLen(4))

		names := make([]string, len(s.Fields))
		for i, f := range s.Fields {
			names[i] = f.Name
		}
		Expect(names).To(Equal([]string{
			"header", "status", "latitude", "longitude", "altitude",
			"position_covariance", "position_covariance_type",
		}))
	})

	It("round trips an Image", func() {
		v := cdr.Struct{
			"header": cdr.Struct{
				"stamp":    cdr.Struct{"sec": int32(5), "nanosec": uint32(6)},
				"frame_id": "camera",
			},
			"height":       uint32(2),
			"width":        uint32(2),
			"encoding":     "mono8",
			"is_bigendian": uint8(0),
			"step":         uint32(2),
			"data":         []byte{1, 2, 3, 4},
		}
		data, err := r.Encode("sensor_msgs/msg/Image", v)
		Expect(err).ToNot(HaveOccurred())

		decoded, err := r.Decode("sensor_msgs/msg/Image", data)
		Expect(err).ToNot(HaveOccurred())
		Expect(decoded).To(Equal(v))
	})
})

func TestMsgs(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Testing msgs")
}
