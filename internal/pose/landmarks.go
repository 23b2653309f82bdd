package pose

// BlazePose landmark vocabulary (33 points).
const (
	Nose           LandmarkID = "nose"
	LeftEyeInner   LandmarkID = "left_eye_inner"
	LeftEye        LandmarkID = "left_eye"
	LeftEyeOuter   LandmarkID = "left_eye_outer"
	RightEyeInner  LandmarkID = "right_eye_inner"
	RightEye       LandmarkID = "right_eye"
	RightEyeOuter  LandmarkID = "right_eye_outer"
	LeftEar        LandmarkID = "left_ear"
	RightEar       LandmarkID = "right_ear"
	MouthLeft      LandmarkID = "mouth_left"
	MouthRight     LandmarkID = "mouth_right"
	LeftShoulder   LandmarkID = "left_shoulder"
	RightShoulder  LandmarkID = "right_shoulder"
	LeftElbow      LandmarkID = "left_elbow"
	RightElbow     LandmarkID = "right_elbow"
	LeftWrist      LandmarkID = "left_wrist"
	RightWrist     LandmarkID = "right_wrist"
	LeftPinky      LandmarkID = "left_pinky"
	RightPinky     LandmarkID = "right_pinky"
	LeftIndex      LandmarkID = "left_index"
	RightIndex     LandmarkID = "right_index"
	LeftThumb      LandmarkID = "left_thumb"
	RightThumb     LandmarkID = "right_thumb"
	LeftHip        LandmarkID = "left_hip"
	RightHip       LandmarkID = "right_hip"
	LeftKnee       LandmarkID = "left_knee"
	RightKnee      LandmarkID = "right_knee"
	LeftAnkle      LandmarkID = "left_ankle"
	RightAnkle     LandmarkID = "right_ankle"
	LeftHeel       LandmarkID = "left_heel"
	RightHeel      LandmarkID = "right_heel"
	LeftFootIndex  LandmarkID = "left_foot_index"
	RightFootIndex LandmarkID = "right_foot_index"
)

// Landmarks lists the vocabulary in model output order.
var Landmarks = []LandmarkID{
	Nose, LeftEyeInner, LeftEye, LeftEyeOuter, RightEyeInner, RightEye, RightEyeOuter,
	LeftEar, RightEar, MouthLeft, MouthRight,
	LeftShoulder, RightShoulder, LeftElbow, RightElbow, LeftWrist, RightWrist,
	LeftPinky, RightPinky, LeftIndex, RightIndex, LeftThumb, RightThumb,
	LeftHip, RightHip, LeftKnee, RightKnee, LeftAnkle, RightAnkle,
	LeftHeel, RightHeel, LeftFootIndex, RightFootIndex,
}

// LeftSide and RightSide are the landmarks whose summed confidence decides
// which side of the body is facing the camera.
var (
	LeftSide  = []LandmarkID{LeftShoulder, LeftHip, LeftKnee, LeftAnkle}
	RightSide = []LandmarkID{RightShoulder, RightHip, RightKnee, RightAnkle}
)

// Bone is an edge of the drawn skeleton.
type Bone struct {
	From, To LandmarkID
}

// Skeleton is the BlazePose adjacency used for the white skeleton overlay.
var Skeleton = []Bone{
	{Nose, LeftEyeInner}, {LeftEyeInner, LeftEye}, {LeftEye, LeftEyeOuter}, {LeftEyeOuter, LeftEar},
	{Nose, RightEyeInner}, {RightEyeInner, RightEye}, {RightEye, RightEyeOuter}, {RightEyeOuter, RightEar},
	{MouthLeft, MouthRight},
	{LeftShoulder, RightShoulder},
	{LeftShoulder, LeftElbow}, {LeftElbow, LeftWrist},
	{LeftWrist, LeftPinky}, {LeftWrist, LeftIndex}, {LeftWrist, LeftThumb}, {LeftPinky, LeftIndex},
	{RightShoulder, RightElbow}, {RightElbow, RightWrist},
	{RightWrist, RightPinky}, {RightWrist, RightIndex}, {RightWrist, RightThumb}, {RightPinky, RightIndex},
	{LeftShoulder, LeftHip}, {RightShoulder, RightHip}, {LeftHip, RightHip},
	{LeftHip, LeftKnee}, {LeftKnee, LeftAnkle}, {LeftAnkle, LeftHeel}, {LeftHeel, LeftFootIndex}, {LeftAnkle, LeftFootIndex},
	{RightHip, RightKnee}, {RightKnee, RightAnkle}, {RightAnkle, RightHeel}, {RightHeel, RightFootIndex}, {RightAnkle, RightFootIndex},
}

// IsLandmark reports whether id belongs to the vocabulary.
func IsLandmark(id LandmarkID) bool {
	for _, l := range Landmarks {
		if l == id {
			return true
		}
	}
	return false
}
