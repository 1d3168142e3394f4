package httpapi

import (
	"github.com/biblioteca/services/lending/internal/db"
	"github.com/biblioteca/services/lending/internal/events"
	"github.com/gofiber/fiber/v2"
)

// createMember handles POST /api/members
func (s *Server) createMember(c *fiber.Ctx) error {
	var req CreateMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, map[string][]string{"body": {"invalid request body"}})
	}
	if err := s.validate.Struct(req); err != nil {
		return badRequest(c, validationMessages(err))
	}

	member := &db.Member{
		Name:   req.Name,
		Email:  req.Email,
		Phone:  req.Phone,
		Active: true,
	}
	if err := s.members.CreateMember(c.UserContext(), member); err != nil {
		return s.writeRepoError(c, err)
	}

	s.publishAsync(events.EventTypeMemberRegistered, map[string]interface{}{
		"member_id": member.ID,
		"name":      member.Name,
		"email":     member.Email,
	})

	return c.Status(fiber.StatusCreated).JSON(memberToResponse(member))
}

// listMembers handles GET /api/members with the current-loan projection
func (s *Server) listMembers(c *fiber.Ctx) error {
	views, err := s.members.ListMembersWithCurrentLoan(c.UserContext())
	if err != nil {
		return s.writeRepoError(c, err)
	}

	out := make([]MemberViewResponse, len(views))
	for i, view := range views {
		out[i] = memberViewToResponse(view)
	}
	return c.JSON(out)
}
