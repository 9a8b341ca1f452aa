package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserSessionKey returns the cache key holding the active token id of a user
func (r *CacheKeyStruct) UserSessionKey(userID string) string {
	return fmt.Sprintf("login:%s", userID)
}

// ClassroomKey returns the key of a classroom header (JSON, no students)
func (r *CacheKeyStruct) ClassroomKey(classroomID string) string {
	return fmt.Sprintf("classroom:%s", classroomID)
}

// ClassroomCodeKey returns the key mapping an upper-cased code to a classroom id
func (r *CacheKeyStruct) ClassroomCodeKey(code string) string {
	return fmt.Sprintf("classroom:code:%s", code)
}

// ClassroomStudentsKey returns the hash of student records keyed by student id
func (r *CacheKeyStruct) ClassroomStudentsKey(classroomID string) string {
	return fmt.Sprintf("classroom:%s:students", classroomID)
}

// ClassroomAnswersKey returns the hash of answers keyed by "{studentID}:{questionID}"
func (r *CacheKeyStruct) ClassroomAnswersKey(classroomID string) string {
	return fmt.Sprintf("classroom:%s:answers", classroomID)
}

// AnswerField returns the field of one answer in ClassroomAnswersKey
func (r *CacheKeyStruct) AnswerField(studentID, questionID string) string {
	return studentID + ":" + questionID
}

// TeacherClassroomsKey returns the set of classroom ids owned by a teacher
func (r *CacheKeyStruct) TeacherClassroomsKey(teacherID string) string {
	return fmt.Sprintf("teacher:%s:classrooms", teacherID)
}

// ClassroomsKey is the set of every classroom id
func (r *CacheKeyStruct) ClassroomsKey() string {
	return "classrooms"
}

// ActiveClassroomsKey is the set of classroom ids not yet ended
func (r *CacheKeyStruct) ActiveClassroomsKey() string {
	return "classrooms:active"
}

// ClassroomMonitorChannel returns the Redis PubSub channel name for a classroom monitor
func (r *CacheKeyStruct) ClassroomMonitorChannel(classroomID string) string {
	return fmt.Sprintf("classroom:%s:monitor", classroomID)
}

var CacheKey = NewCacheKeyStruct()
