// Package vision defines the boundary between the parking monitor and the
// external vision collaborators: the frame source that yields decoded
// frames per stream and the detector that turns a frame into vehicle
// detections.
//
// Coordinates are image-plane pixels with the origin at the top-left
// corner. Nothing in this package inspects pixel data.
package vision
