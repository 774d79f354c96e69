// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package msgs is a catalog of standard ROS 2 message definitions.
//
// Definitions are plain ".msg" text. Adding a type is a matter of adding its
// definition to the table below.
package msgs

import (
	"sort"

	"github.com/danjacques/gorosbag/cdr"

	"github.com/pkg/errors"
)

// Definitions maps fully qualified type names to their ".msg" text.
//
// Definitions must not be modified.
var Definitions = map[string]string{
	// builtin_interfaces
	"builtin_interfaces/msg/Time": `
int32 sec
uint32 nanosec
`,
	"builtin_interfaces/msg/Duration": `
int32 sec
uint32 nanosec
`,

	// std_msgs
	"std_msgs/msg/Header": `
builtin_interfaces/Time stamp
string frame_id
`,
	"std_msgs/msg/Empty":   ``,
	"std_msgs/msg/Bool":    `bool data`,
	"std_msgs/msg/Byte":    `byte data`,
	"std_msgs/msg/Char":    `char data`,
	"std_msgs/msg/String":  `string data`,
	"std_msgs/msg/Int8":    `int8 data`,
	"std_msgs/msg/UInt8":   `uint8 data`,
	"std_msgs/msg/Int16":   `int16 data`,
	"std_msgs/msg/UInt16":  `uint16 data`,
	"std_msgs/msg/Int32":   `int32 data`,
	"std_msgs/msg/UInt32":  `uint32 data`,
	"std_msgs/msg/Int64":   `int64 data`,
	"std_msgs/msg/UInt64":  `uint64 data`,
	"std_msgs/msg/Float32": `float32 data`,
	"std_msgs/msg/Float64": `float64 data`,
	"std_msgs/msg/ColorRGBA": `
float32 r
float32 g
float32 b
float32 a
`,
	"std_msgs/msg/MultiArrayDimension": `
string label
uint32 size
uint32 stride
`,
	"std_msgs/msg/MultiArrayLayout": `
MultiArrayDimension[] dim
uint32 data_offset
`,
	"std_msgs/msg/Float32MultiArray": `
MultiArrayLayout layout
float32[] data
`,
	"std_msgs/msg/Float64MultiArray": `
MultiArrayLayout layout
float64[] data
`,
	"std_msgs/msg/Int32MultiArray": `
MultiArrayLayout layout
int32[] data
`,
	"std_msgs/msg/UInt8MultiArray": `
MultiArrayLayout layout
uint8[] data
`,

	// unique_identifier_msgs
	"unique_identifier_msgs/msg/UUID": `uint8[16] uuid`,

	// geometry_msgs
	"geometry_msgs/msg/Point": `
float64 x
float64 y
float64 z
`,
	"geometry_msgs/msg/Point32": `
float32 x
float32 y
float32 z
`,
	"geometry_msgs/msg/Vector3": `
float64 x
float64 y
float64 z
`,
	"geometry_msgs/msg/Quaternion": `
float64 x 0
float64 y 0
float64 z 0
float64 w 1
`,
	"geometry_msgs/msg/Pose": `
Point position
Quaternion orientation
`,
	"geometry_msgs/msg/Pose2D": `
float64 x
float64 y
float64 theta
`,
	"geometry_msgs/msg/PoseStamped": `
std_msgs/Header header
Pose pose
`,
	"geometry_msgs/msg/PoseArray": `
std_msgs/Header header
Pose[] poses
`,
	"geometry_msgs/msg/PoseWithCovariance": `
Pose pose
float64[36] covariance
`,
	"geometry_msgs/msg/PoseWithCovarianceStamped": `
std_msgs/Header header
PoseWithCovariance pose
`,
	"geometry_msgs/msg/PointStamped": `
std_msgs/Header header
Point point
`,
	"geometry_msgs/msg/Vector3Stamped": `
std_msgs/Header header
Vector3 vector
`,
	"geometry_msgs/msg/Polygon": `Point32[] points`,
	"geometry_msgs/msg/PolygonStamped": `
std_msgs/Header header
Polygon polygon
`,
	"geometry_msgs/msg/Transform": `
Vector3 translation
Quaternion rotation
`,
	"geometry_msgs/msg/TransformStamped": `
std_msgs/Header header
string child_frame_id
Transform transform
`,
	"geometry_msgs/msg/Twist": `
Vector3 linear
Vector3 angular
`,
	"geometry_msgs/msg/TwistStamped": `
std_msgs/Header header
Twist twist
`,
	"geometry_msgs/msg/TwistWithCovariance": `
Twist twist
float64[36] covariance
`,
	"geometry_msgs/msg/TwistWithCovarianceStamped": `
std_msgs/Header header
TwistWithCovariance twist
`,
	"geometry_msgs/msg/Accel": `
Vector3 linear
Vector3 angular
`,
	"geometry_msgs/msg/AccelStamped": `
std_msgs/Header header
Accel accel
`,
	"geometry_msgs/msg/Wrench": `
Vector3 force
Vector3 torque
`,
	"geometry_msgs/msg/WrenchStamped": `
std_msgs/Header header
Wrench wrench
`,

	// sensor_msgs
	"sensor_msgs/msg/Imu": `
std_msgs/Header header
geometry_msgs/Quaternion orientation
float64[9] orientation_covariance
geometry_msgs/Vector3 angular_velocity
float64[9] angular_velocity_covariance
geometry_msgs/Vector3 linear_acceleration
float64[9] linear_acceleration_covariance
`,
	"sensor_msgs/msg/NavSatStatus": `
int8 STATUS_NO_FIX = -1
int8 STATUS_FIX = 0
int8 STATUS_SBAS_FIX = 1
int8 STATUS_GBAS_FIX = 2
int8 status
uint16 SERVICE_GPS = 1
uint16 SERVICE_GLONASS = 2
uint16 SERVICE_COMPASS = 4
uint16 SERVICE_GALILEO = 8
uint16 service
`,
	"sensor_msgs/msg/NavSatFix": `
std_msgs/Header header
NavSatStatus status
float64 latitude
float64 longitude
float64 altitude
float64[9] position_covariance
uint8 COVARIANCE_TYPE_UNKNOWN = 0
uint8 COVARIANCE_TYPE_APPROXIMATED = 1
uint8 COVARIANCE_TYPE_DIAGONAL_KNOWN = 2
uint8 COVARIANCE_TYPE_KNOWN = 3
uint8 position_covariance_type
`,
	"sensor_msgs/msg/Image": `
std_msgs/Header header
uint32 height
uint32 width
string encoding
uint8 is_bigendian
uint32 step
uint8[] data
`,
	"sensor_msgs/msg/CompressedImage": `
std_msgs/Header header
string format
uint8[] data
`,
	"sensor_msgs/msg/RegionOfInterest": `
uint32 x_offset
uint32 y_offset
uint32 height
uint32 width
bool do_rectify
`,
	"sensor_msgs/msg/CameraInfo": `
std_msgs/Header header
uint32 height
uint32 width
string distortion_model
float64[] d
float64[9] k
float64[9] r
float64[12] p
uint32 binning_x
uint32 binning_y
RegionOfInterest roi
`,
	"sensor_msgs/msg/LaserScan": `
std_msgs/Header header
float32 angle_min
float32 angle_max
float32 angle_increment
float32 time_increment
float32 scan_time
float32 range_min
float32 range_max
float32[] ranges
float32[] intensities
`,
	"sensor_msgs/msg/PointField": `
uint8 INT8 = 1
uint8 UINT8 = 2
uint8 INT16 = 3
uint8 UINT16 = 4
uint8 INT32 = 5
uint8 UINT32 = 6
uint8 FLOAT32 = 7
uint8 FLOAT64 = 8
string name
uint32 offset
uint8 datatype
uint32 count
`,
	"sensor_msgs/msg/PointCloud2": `
std_msgs/Header header
uint32 height
uint32 width
PointField[] fields
bool is_bigendian
uint32 point_step
uint32 row_step
uint8[] data
bool is_dense
`,
	"sensor_msgs/msg/Range": `
uint8 ULTRASOUND = 0
uint8 INFRARED = 1
std_msgs/Header header
uint8 radiation_type
float32 field_of_view
float32 min_range
float32 max_range
float32 range
`,
	"sensor_msgs/msg/Temperature": `
std_msgs/Header header
float64 temperature
float64 variance
`,
	"sensor_msgs/msg/FluidPressure": `
std_msgs/Header header
float64 fluid_pressure
float64 variance
`,
	"sensor_msgs/msg/Illuminance": `
std_msgs/Header header
float64 illuminance
float64 variance
`,
	"sensor_msgs/msg/RelativeHumidity": `
std_msgs/Header header
float64 relative_humidity
float64 variance
`,
	"sensor_msgs/msg/MagneticField": `
std_msgs/Header header
geometry_msgs/Vector3 magnetic_field
float64[9] magnetic_field_covariance
`,

	// nav_msgs
	"nav_msgs/msg/Odometry": `
std_msgs/Header header
string child_frame_id
geometry_msgs/PoseWithCovariance pose
geometry_msgs/TwistWithCovariance twist
`,
	"nav_msgs/msg/Path": `
std_msgs/Header header
geometry_msgs/PoseStamped[] poses
`,
	"nav_msgs/msg/MapMetaData": `
builtin_interfaces/Time map_load_time
float32 resolution
uint32 width
uint32 height
geometry_msgs/Pose origin
`,
	"nav_msgs/msg/OccupancyGrid": `
std_msgs/Header header
MapMetaData info
int8[] data
`,
	"nav_msgs/msg/GridCells": `
std_msgs/Header header
float32 cell_width
float32 cell_height
geometry_msgs/Point[] cells
`,

	// diagnostic_msgs
	"diagnostic_msgs/msg/KeyValue": `
string key
string value
`,
	"diagnostic_msgs/msg/DiagnosticStatus": `
byte OK=0
byte WARN=1
byte ERROR=2
byte STALE=3
byte level
string name
string message
string hardware_id
KeyValue[] values
`,
	"diagnostic_msgs/msg/DiagnosticArray": `
std_msgs/Header header
DiagnosticStatus[] status
`,

	// action_msgs
	"action_msgs/msg/GoalInfo": `
unique_identifier_msgs/UUID goal_id
builtin_interfaces/Time stamp
`,
	"action_msgs/msg/GoalStatus": `
int8 STATUS_UNKNOWN   = 0
int8 STATUS_ACCEPTED  = 1
int8 STATUS_EXECUTING = 2
int8 STATUS_CANCELING = 3
int8 STATUS_SUCCEEDED = 4
int8 STATUS_CANCELED  = 5
int8 STATUS_ABORTED   = 6
GoalInfo goal_info
int8 status
`,
	"action_msgs/msg/GoalStatusArray": `GoalStatus[] status_list`,

	// stereo_msgs
	"stereo_msgs/msg/DisparityImage": `
std_msgs/Header header
sensor_msgs/Image image
float32 f
float32 t
sensor_msgs/RegionOfInterest valid_window
float32 min_disparity
float32 max_disparity
float32 delta_d
`,

	// tf2_msgs
	"tf2_msgs/msg/TFMessage": `geometry_msgs/TransformStamped[] transforms`,

	// rcl_interfaces
	"rcl_interfaces/msg/Log": `
byte DEBUG=10
byte INFO=20
byte WARN=30
byte ERROR=40
byte FATAL=50
builtin_interfaces/Time stamp
uint8 level
string name
string msg
string file
string function
uint32 line
`,
}

// Names returns the sorted names of every cataloged type.
func Names() []string {
	names := make([]string, 0, len(Definitions))
	for name := range Definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register adds every cataloged definition to r.
func Register(r *cdr.Registry) error {
	for _, name := range Names() {
		s, err := cdr.ParseDefinition(name, Definitions[name])
		if err != nil {
			return errors.Wrapf(err, "parsing %s", name)
		}
		r.Register(s)
	}
	return nil
}

// NewRegistry returns a new Registry populated with the catalog.
func NewRegistry() *cdr.Registry {
	r := cdr.NewRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}
