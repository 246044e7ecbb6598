package archive

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeUnsupportedFormat:
		return "UnsupportedFormat"
	case OutcomeSecurityError:
		return "SecurityError"
	case OutcomeError:
		return "Error"
	default:
		return "Unknown"
	}
}
