package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"VitalsAI/go-backend/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	estimatorService = "vitals.v1.Estimator"
	estimateMethod   = "/" + estimatorService + "/Estimate"
)

var ErrInvalidObservation = errors.New("invalid observation")

// EstimatorServer is implemented by inference services and by test fakes.
type EstimatorServer interface {
	Estimate(ctx context.Context, frame *wrapperspb.BytesValue) (*structpb.Struct, error)
}

func RegisterEstimatorServer(s grpc.ServiceRegistrar, srv EstimatorServer) {
	s.RegisterService(&estimatorServiceDesc, srv)
}

var estimatorServiceDesc = grpc.ServiceDesc{
	ServiceName: estimatorService,
	HandlerType: (*EstimatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Estimate", Handler: estimateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vitals/v1/estimator.proto",
}

func estimateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EstimatorServer).Estimate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: estimateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EstimatorServer).Estimate(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ObservationFromStruct maps the estimator's response onto a FrameObservation.
// Missing, null or non-finite numeric fields stay nil; fields of the wrong type
// are an error. An estimator that sends no confidence is trusted, and one that
// sends no face_detected is taken to see a face whenever the frame carries a
// reading or a known mood.
func ObservationFromStruct(s *structpb.Struct) (models.FrameObservation, error) {
	var obs models.FrameObservation
	if s == nil {
		return obs, fmt.Errorf("%w: empty response", ErrInvalidObservation)
	}
	f := s.GetFields()

	var err error
	if obs.HeartRateBPM, err = optionalNumber(f, "heart_rate_bpm"); err != nil {
		return obs, err
	}
	if obs.RespiratoryRateBPM, err = optionalNumber(f, "respiratory_rate_bpm"); err != nil {
		return obs, err
	}
	if obs.TremorIndex, err = optionalNumber(f, "tremor_index"); err != nil {
		return obs, err
	}
	if obs.Confidence, err = confidence(f); err != nil {
		return obs, err
	}

	obs.Mood = f["mood"].GetStringValue()
	obs.Gesture = f["gesture"].GetStringValue()
	switch p := models.PostureScore(f["posture"].GetStringValue()); p {
	case models.PostureGood, models.PostureFair, models.PosturePoor:
		obs.Posture = p
	}
	obs.PoorLighting = f["poor_lighting"].GetBoolValue()

	if v, ok := f["conditions"]; ok {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_ListValue:
			for _, item := range kind.ListValue.GetValues() {
				if c := item.GetStringValue(); c != "" {
					obs.Conditions = append(obs.Conditions, c)
				}
			}
		case *structpb.Value_NullValue:
		default:
			return obs, fmt.Errorf("%w: conditions must be a list", ErrInvalidObservation)
		}
	}

	switch kind := f["face_detected"].GetKind().(type) {
	case *structpb.Value_BoolValue:
		obs.FaceDetected = kind.BoolValue
	case nil, *structpb.Value_NullValue:
		obs.FaceDetected = looksLikeFace(obs)
	default:
		return obs, fmt.Errorf("%w: face_detected must be a bool", ErrInvalidObservation)
	}
	return obs, nil
}

func looksLikeFace(obs models.FrameObservation) bool {
	for _, v := range []*float64{obs.HeartRateBPM, obs.RespiratoryRateBPM, obs.TremorIndex} {
		if v != nil && *v > 0 {
			return true
		}
	}
	return obs.Mood != "" && !strings.EqualFold(obs.Mood, models.MoodUnknown)
}

// confidence is clamped to [0, 1]. Absent means 1; NaN or an infinity means 0.
func confidence(f map[string]*structpb.Value) (float64, error) {
	v, ok := f["confidence"]
	if !ok {
		return 1, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return 1, nil
	case *structpb.Value_NumberValue:
		c := kind.NumberValue
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return 0, nil
		}
		return math.Max(0, math.Min(1, c)), nil
	default:
		return 0, fmt.Errorf("%w: confidence must be a number", ErrInvalidObservation)
	}
}

func optionalNumber(f map[string]*structpb.Value, key string) (*float64, error) {
	v, ok := f[key]
	if !ok {
		return nil, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, nil
		}
		return &n, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidObservation, key)
	}
}

// ObservationToStruct is the inverse of ObservationFromStruct, used by
// estimator implementations written in Go.
func ObservationToStruct(obs models.FrameObservation) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"heart_rate_bpm":       numberOrNull(obs.HeartRateBPM),
		"respiratory_rate_bpm": numberOrNull(obs.RespiratoryRateBPM),
		"tremor_index":         numberOrNull(obs.TremorIndex),
		"mood":                 structpb.NewStringValue(obs.Mood),
		"gesture":              structpb.NewStringValue(obs.Gesture),
		"confidence":           structpb.NewNumberValue(obs.Confidence),
		"posture":              structpb.NewStringValue(string(obs.Posture)),
		"face_detected":        structpb.NewBoolValue(obs.FaceDetected),
		"poor_lighting":        structpb.NewBoolValue(obs.PoorLighting),
	}
	conditions := make([]*structpb.Value, 0, len(obs.Conditions))
	for _, c := range obs.Conditions {
		conditions = append(conditions, structpb.NewStringValue(c))
	}
	fields["conditions"] = structpb.NewListValue(&structpb.ListValue{Values: conditions})
	return &structpb.Struct{Fields: fields}
}

func numberOrNull(v *float64) *structpb.Value {
	if v == nil {
		return structpb.NewNullValue()
	}
	return structpb.NewNumberValue(*v)
}
