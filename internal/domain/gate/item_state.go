package gate

// VerificationItem tracks both evidence channels for one item in a session.
// It is owned by its Session and only mutated through Session methods.
type VerificationItem struct {
	kind                ItemKind
	tagStatus           ChannelStatus
	tagEvidenceID       string
	detectionStatus     ChannelStatus
	detectionConfidence *float64
}

func newVerificationItem(kind ItemKind) *VerificationItem {
	return &VerificationItem{
		kind:            kind,
		tagStatus:       ChannelStatusPending,
		detectionStatus: ChannelStatusPending,
	}
}

// Kind returns the item kind.
func (i *VerificationItem) Kind() ItemKind { return i.kind }

// TagStatus returns the tag channel status.
func (i *VerificationItem) TagStatus() ChannelStatus { return i.tagStatus }

// TagEvidenceID returns the evidence that passed the tag channel, if any.
func (i *VerificationItem) TagEvidenceID() (string, bool) {
	return i.tagEvidenceID, i.tagEvidenceID != ""
}

// DetectionStatus returns the detection channel status.
func (i *VerificationItem) DetectionStatus() ChannelStatus { return i.detectionStatus }

// DetectionConfidence returns the confidence that passed the detection channel, if any.
func (i *VerificationItem) DetectionConfidence() (float64, bool) {
	if i.detectionConfidence == nil {
		return 0, false
	}
	return *i.detectionConfidence, true
}

// Status returns the status of ch.
func (i *VerificationItem) Status(ch Channel) ChannelStatus {
	if ch == ChannelTag {
		return i.tagStatus
	}
	return i.detectionStatus
}

func (i *VerificationItem) setStatus(ch Channel, target ChannelStatus) error {
	current := i.Status(ch)
	if err := current.validateTransition(target); err != nil {
		return err
	}
	if ch == ChannelTag {
		i.tagStatus = target
	} else {
		i.detectionStatus = target
	}
	return nil
}

func (i *VerificationItem) complete(required []Channel) bool {
	for _, ch := range required {
		if i.Status(ch) != ChannelStatusPassed {
			return false
		}
	}
	return true
}

func (i *VerificationItem) passedCount(required []Channel) int {
	n := 0
	for _, ch := range required {
		if i.Status(ch) == ChannelStatusPassed {
			n++
		}
	}
	return n
}
