package hl7

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AckCode is the code carried in MSA-1 of a generated or received ACK.
type AckCode string

const (
	AckApplicationAccept AckCode = "AA"
	AckApplicationError  AckCode = "AE"
	AckApplicationReject AckCode = "AR"
	AckCommitAccept      AckCode = "CA"
	AckCommitError       AckCode = "CE"
	AckCommitReject      AckCode = "CR"
)

// BuildAck constructs an ACK message for an inbound HL7 message whose
// parsed view is `in`, echoing MSH-10 into MSA-2 (I-ack-echo) and
// swapping sending/receiving application and facility.
func BuildAck(in *ParsedView, code AckCode, text string) []byte {
	sendingApp := in.ReceivingApplication()
	sendingFac := in.ReceivingFacility()
	receivingApp := in.SendingApplication()
	receivingFac := in.SendingFacility()
	controlID := in.MessageControlID()
	version := in.GetField("MSH-12", "2.4")
	ackEvent := in.GetField("MSH-9.2", "")

	ts := time.Now().UTC().Format("20060102150405")
	newControlID := shortID()

	event := "ACK"
	if ackEvent != "" {
		event = "ACK^" + ackEvent
	}

	msh := fmt.Sprintf("MSH|^~\\&|%s|%s|%s|%s|%s||%s|%s|P|%s",
		sendingApp, sendingFac, receivingApp, receivingFac, ts, event, newControlID, version)
	msa := fmt.Sprintf("MSA|%s|%s|%s", code, controlID, text)

	raw := msh + "\r" + msa + "\r"
	return []byte(raw)
}

func shortID() string {
	full := uuid.NewString()
	return full[:8]
}
