package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrEmailTaken         ErrCode = "EMAIL_TAKEN"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrNotClassroomOwner ErrCode = "NOT_CLASSROOM_OWNER"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrTeacherAccessOnly ErrCode = "TEACHER_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Classroom-specific ────────────────────────────────────────────
	ErrClassroomNotFound ErrCode = "CLASSROOM_NOT_FOUND"
	ErrClassroomEnded    ErrCode = "CLASSROOM_ENDED"
	ErrStudentNotJoined  ErrCode = "STUDENT_NOT_JOINED"

	// ─── Collaborators ─────────────────────────────────────────────────
	ErrServiceUnavailable ErrCode = "SERVICE_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email atau kata sandi salah."
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrEmailTaken:
		return "Email sudah terdaftar."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrNotClassroomOwner:
		return "Anda bukan pembuat kelas ini."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrTeacherAccessOnly:
		return "Sumber daya ini terbatas untuk guru."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Classroom-specific ────────────────────────────────────────────
	case ErrClassroomNotFound:
		return "Kelas tidak ditemukan."
	case ErrClassroomEnded:
		return "Ujian di kelas ini sudah berakhir."
	case ErrStudentNotJoined:
		return "Siswa belum bergabung di kelas ini."

	// ─── Collaborators ─────────────────────────────────────────────────
	case ErrServiceUnavailable:
		return "Layanan sedang tidak tersedia. Silakan coba lagi nanti."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
