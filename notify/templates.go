package notify

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"
)

// RequestInfo is what the verification emails show about a request.
type RequestInfo struct {
	RequestID      string
	PRN            string
	CourseName     string
	OwnerName      string
	OwnerEmail     string
	RequesterName  string
	RequesterEmail string
	Organization   string
	Purpose        string
}

type Templates struct {
	AppName string
	BaseURL string
}

func (t Templates) brand() string {
	if t.AppName == "" {
		return "CertProof"
	}
	return t.AppName
}

// HTML Wrapper shared by every email
func (t Templates) wrap(title string, bodyContent string) string {
	brand := html.EscapeString(t.brand())
	return fmt.Sprintf(`
	<!DOCTYPE html>
	<html>
	<head>
		<style>
			body { font-family: 'Helvetica Neue', Helvetica, Arial, sans-serif; background-color: #F6F6F6; margin: 0; padding: 0; }
			.container { max-width: 600px; margin: 40px auto; background: #FFFFFF; border-radius: 8px; overflow: hidden; box-shadow: 0 4px 15px rgba(0,0,0,0.05); }
			.header { background-color: #00004D; padding: 30px; text-align: center; }
			.header h1 { color: #FFFFFF; margin: 0; font-size: 24px; letter-spacing: 1px; }
			.content { padding: 40px 30px; color: #00004D; line-height: 1.6; }
			.content h2 { color: #00004D; margin-top: 0; }
			.footer { background-color: #F6F6F6; padding: 20px; text-align: center; font-size: 12px; color: #666666; border-top: 1px solid #E0E0E0; }
			.btn { display: inline-block; padding: 12px 24px; color: #FFFFFF; text-decoration: none; border-radius: 4px; font-weight: bold; margin: 20px 8px 0 0; }
			.approve { background-color: #28A745; }
			.reject { background-color: #DC3545; }
			.info-box { background: #E8F0FE; padding: 15px; border-radius: 4px; border-left: 4px solid #d7b56d; margin: 20px 0; }
		</style>
	</head>
	<body>
		<div class="container">
			<div class="header">
				<h1>%s</h1>
			</div>
			<div class="content">
				<h2>%s</h2>
				%s
			</div>
			<div class="footer">
				&copy; %d %s. Certificates are fingerprinted and anchored on a public ledger.
			</div>
		</div>
	</body>
	</html>
	`, strings.ToUpper(brand), html.EscapeString(title), bodyContent, time.Now().Year(), brand)
}

func (t Templates) link(path string, query url.Values) string {
	u := strings.TrimRight(t.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (info RequestInfo) requesterLine() string {
	line := fmt.Sprintf("<strong>%s</strong> (%s)", html.EscapeString(info.RequesterName), html.EscapeString(info.RequesterEmail))
	if info.Organization != "" {
		line += " from <strong>" + html.EscapeString(info.Organization) + "</strong>"
	}
	return line
}

// OwnerRequest asks the certificate owner to approve or reject a request.
// The tokens are single-purpose signed action tokens.
func (t Templates) OwnerRequest(info RequestInfo, approveToken, rejectToken string) Message {
	purpose := ""
	if info.Purpose != "" {
		purpose = fmt.Sprintf(`<div class="info-box"><strong>Purpose:</strong> %s</div>`, html.EscapeString(info.Purpose))
	}
	body := fmt.Sprintf(`
		<p>Dear %s,</p>
		<p>%s has requested to verify your certificate <strong>%s</strong> (%s).</p>
		%s
		<p>Nothing is shared until you approve. You can also respond from your dashboard.</p>
		<a class="btn approve" href="%s">Approve</a>
		<a class="btn reject" href="%s">Reject</a>
	`,
		html.EscapeString(info.OwnerName),
		info.requesterLine(),
		html.EscapeString(info.PRN),
		html.EscapeString(info.CourseName),
		purpose,
		html.EscapeString(t.link("/verification/respond", url.Values{"token": {approveToken}})),
		html.EscapeString(t.link("/verification/respond", url.Values{"token": {rejectToken}})),
	)

	return Message{
		To:        []string{info.OwnerEmail},
		Subject:   "Verification request for certificate " + info.PRN,
		HTML:      t.wrap("New Verification Request", body),
		Kind:      KindRequestCreated,
		RequestID: info.RequestID,
	}
}

func (t Templates) RequesterApproved(info RequestInfo) Message {
	statusURL := t.link("/verification/status/"+url.PathEscape(info.RequestID), url.Values{"email": {info.RequesterEmail}})
	body := fmt.Sprintf(`
		<p>Dear %s,</p>
		<p>%s has approved your request to verify certificate <strong>%s</strong>.</p>
		<div class="info-box">
			<strong>Request ID:</strong> %s
		</div>
		<a class="btn approve" href="%s">View certificate</a>
	`,
		html.EscapeString(info.RequesterName),
		html.EscapeString(info.OwnerName),
		html.EscapeString(info.PRN),
		html.EscapeString(info.RequestID),
		html.EscapeString(statusURL),
	)

	return Message{
		To:        []string{info.RequesterEmail},
		Subject:   "Verification approved: " + info.PRN,
		HTML:      t.wrap("Request Approved", body),
		Kind:      KindRequestApproved,
		RequestID: info.RequestID,
	}
}

func (t Templates) RequesterRejected(info RequestInfo) Message {
	body := fmt.Sprintf(`
		<p>Dear %s,</p>
		<p>The owner of certificate <strong>%s</strong> has declined your verification request.</p>
		<p>You may submit a new request if needed.</p>
	`,
		html.EscapeString(info.RequesterName),
		html.EscapeString(info.PRN),
	)

	return Message{
		To:        []string{info.RequesterEmail},
		Subject:   "Verification declined: " + info.PRN,
		HTML:      t.wrap("Request Declined", body),
		Kind:      KindRequestRejected,
		RequestID: info.RequestID,
	}
}

// CertificateIssued tells the student a certificate was issued to them.
func (t Templates) CertificateIssued(studentName, studentEmail, courseName, prn, sno string) Message {
	body := fmt.Sprintf(`
		<p>Dear %s,</p>
		<p>A certificate has been issued to you for:</p>
		<h3 style="text-align: center; color: #4CAF50;">%s</h3>
		<div class="info-box">
			<strong>PRN:</strong> %s<br>
			<strong>Certificate Number:</strong> %s
		</div>
		<p>Verifiers must request access using your PRN. You approve or reject each request from your dashboard.</p>
	`,
		html.EscapeString(studentName),
		html.EscapeString(courseName),
		html.EscapeString(prn),
		html.EscapeString(sno),
	)

	return Message{
		To:      []string{studentEmail},
		Subject: "Certificate issued: " + courseName,
		HTML:    t.wrap("Certificate Issued", body),
		Kind:    KindCertificateIssued,
	}
}
